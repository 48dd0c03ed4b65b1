// Package main runs end-to-end scenarios against a running assistant API.
//
// Scenarios cover:
//   - Multi-turn booking with confirmation
//   - Single-message booking in French
//   - Viewing appointments by phone
//   - Editing the time of an appointment
//   - Cancelling with confirmation
//   - Declining a confirmation
//   - Request validation and staff endpoints
//
// Usage:
//
//	API_BASE_URL=http://localhost:8000 go run scripts/e2e/run_e2e.go              # runs all
//	API_BASE_URL=http://localhost:8000 go run scripts/e2e/run_e2e.go happy-path   # runs one
package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"
)

// ---------------------------------------------------------------------------
// Constants
// ---------------------------------------------------------------------------

const requestTimeout = 60 * time.Second

var (
	apiBase string
	client  = &http.Client{Timeout: requestTimeout}
	runID   = time.Now().UnixNano() % 1_000_000
)

// ---------------------------------------------------------------------------
// Scenario definition
// ---------------------------------------------------------------------------

type scenario struct {
	Name string
	Fn   func(t *T)
}

// T is a lightweight test context for a single scenario.
type T struct {
	passed  int
	failed  int
	name    string
	session string
	phone   string
}

func (t *T) check(name string, ok bool) {
	if ok {
		fmt.Printf("    PASS: %s\n", name)
		t.passed++
	} else {
		fmt.Printf("    FAIL: %s\n", name)
		t.failed++
	}
}

func (t *T) fatalf(format string, args ...interface{}) {
	fmt.Printf("    FATAL: "+format+"\n", args...)
	t.failed++
}

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

type chatReply struct {
	Response     string                 `json:"response"`
	Intent       string                 `json:"intent"`
	Entities     map[string]interface{} `json:"entities"`
	ActionResult map[string]interface{} `json:"action_result"`
}

func doJSON(method, path string, body interface{}) (int, []byte, error) {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return 0, nil, err
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, apiBase+path, reader)
	if err != nil {
		return 0, nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := client.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	return resp.StatusCode, data, err
}

// say sends one chat turn in the scenario's session.
func (t *T) say(message string) (chatReply, error) {
	fmt.Printf("    > %s\n", message)
	status, data, err := doJSON(http.MethodPost, "/chat", map[string]string{
		"session_id": t.session,
		"message":    message,
	})
	if err != nil {
		return chatReply{}, err
	}
	if status != http.StatusOK {
		return chatReply{}, fmt.Errorf("chat returned %d: %s", status, string(data))
	}
	var reply chatReply
	if err := json.Unmarshal(data, &reply); err != nil {
		return chatReply{}, err
	}
	fmt.Printf("    < %s\n", strings.ReplaceAll(reply.Response, "\n", " | "))
	return reply, nil
}

// conversation sends every message and returns the last reply.
func (t *T) conversation(messages ...string) (chatReply, bool) {
	var last chatReply
	for _, msg := range messages {
		reply, err := t.say(msg)
		if err != nil {
			t.fatalf("send %q: %v", msg, err)
			return chatReply{}, false
		}
		last = reply
	}
	return last, true
}

func appointmentsFor(phone string) ([]map[string]interface{}, error) {
	status, data, err := doJSON(http.MethodGet, "/appointments/"+url.PathEscape(phone), nil)
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK {
		return nil, fmt.Errorf("appointments returned %d: %s", status, string(data))
	}
	var out struct {
		Appointments []map[string]interface{} `json:"appointments"`
	}
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	return out.Appointments, nil
}

func containsAny(s string, substrs ...string) bool {
	lower := strings.ToLower(s)
	for _, sub := range substrs {
		if strings.Contains(lower, strings.ToLower(sub)) {
			return true
		}
	}
	return false
}

// purge removes the scenario's appointments and session.
func purge(t *T) error {
	apts, err := appointmentsFor(t.phone)
	if err != nil {
		return err
	}
	for _, apt := range apts {
		id, _ := apt["id"].(string)
		if id == "" {
			continue
		}
		if _, _, err := doJSON(http.MethodDelete, "/appointments/"+id, nil); err != nil {
			return err
		}
	}
	_, _, err = doJSON(http.MethodDelete, "/session/"+t.session, nil)
	return err
}

// setup gives the scenario its own session and phone and purges leftovers.
func setup(t *T, index int) error {
	t.session = fmt.Sprintf("e2e-%d-%s", runID, t.name)
	t.phone = fmt.Sprintf("0550%02d%04d", index, runID%10000)
	return purge(t)
}

// bookFixture books wednesday 11:00 for the scenario phone without going
// through the dialogue assertions.
func bookFixture(t *T) bool {
	_, ok := t.conversation(
		fmt.Sprintf("I'd like to book wednesday at 11am, my name is Sara Haddad and my phone is %s", t.phone),
		"yes",
	)
	if !ok {
		return false
	}
	apts, err := appointmentsFor(t.phone)
	if err != nil || len(apts) == 0 {
		t.fatalf("fixture booking missing: %v", err)
		return false
	}
	_, _, _ = doJSON(http.MethodDelete, "/session/"+t.session, nil)
	return true
}

// ---------------------------------------------------------------------------
// Scenarios
// ---------------------------------------------------------------------------

// 1. Happy path: fields spread over several turns, then confirmation
func scenarioHappyPath(t *T) {
	reply, ok := t.conversation(
		"Hello",
		"I want to book an appointment",
		"My name is Ahmed Benali",
		t.phone,
		"wednesday at 10am for a consultation",
	)
	if !ok {
		return
	}
	t.check("asks for confirmation", containsAny(reply.Response, "confirm", "shall i", "yes/no"))

	reply, ok = t.conversation("yes")
	if !ok {
		return
	}
	t.check("booking confirmed", containsAny(reply.Response, "booked", "confirmed"))
	t.check("intent is book", reply.Intent == "book")
	t.check("action succeeded", reply.ActionResult != nil && reply.ActionResult["success"] == true)

	apts, err := appointmentsFor(t.phone)
	if err != nil {
		t.fatalf("list appointments: %v", err)
		return
	}
	t.check("one appointment stored", len(apts) == 1)
}

// 2. French single message
func scenarioFrench(t *T) {
	reply, ok := t.conversation(
		fmt.Sprintf("Bonjour, je voudrais un rendez-vous mercredi à 14h, je m'appelle Yasmine Kaci, mon numéro est %s", t.phone),
		"oui",
	)
	if !ok {
		return
	}
	t.check("booking confirmed", containsAny(reply.Response, "booked", "confirm", "réserv"))
	apts, err := appointmentsFor(t.phone)
	t.check("appointment stored", err == nil && len(apts) == 1)
}

// 3. View appointments
func scenarioView(t *T) {
	if !bookFixture(t) {
		return
	}
	reply, ok := t.conversation("Can you show my appointments?", t.phone)
	if !ok {
		return
	}
	t.check("lists the appointment", containsAny(reply.Response, "wednesday", "11:00", "appointment"))
}

// 4. Edit the time, keeping the date
func scenarioEdit(t *T) {
	if !bookFixture(t) {
		return
	}
	reply, ok := t.conversation(
		"I need to change my appointment",
		t.phone,
		"at 3pm instead",
	)
	if !ok {
		return
	}
	t.check("asks to confirm the change", containsAny(reply.Response, "confirm", "proceed", "yes/no"))

	reply, ok = t.conversation("yes")
	if !ok {
		return
	}
	t.check("appointment updated", containsAny(reply.Response, "updated", "modified", "changed"))

	apts, err := appointmentsFor(t.phone)
	if err != nil || len(apts) != 1 {
		t.fatalf("expected one appointment after edit: %v", err)
		return
	}
	start, _ := apts[0]["start_time"].(string)
	t.check("start moved to 15:00", strings.Contains(start, "T15:00:00"))
}

// 5. Cancel with confirmation
func scenarioCancel(t *T) {
	if !bookFixture(t) {
		return
	}
	reply, ok := t.conversation("Please cancel my appointment", t.phone)
	if !ok {
		return
	}
	t.check("asks to confirm cancellation", containsAny(reply.Response, "sure", "confirm", "yes/no"))

	reply, ok = t.conversation("yes")
	if !ok {
		return
	}
	t.check("appointment cancelled", containsAny(reply.Response, "cancelled", "canceled"))
	apts, err := appointmentsFor(t.phone)
	t.check("appointment removed", err == nil && len(apts) == 0)
}

// 6. Declining a pending booking leaves the calendar alone
func scenarioDecline(t *T) {
	reply, ok := t.conversation(
		fmt.Sprintf("Book me thursday at 9am, I'm Nadia Ferhat, phone %s", t.phone),
		"no",
	)
	if !ok {
		return
	}
	t.check("operation aborted", containsAny(reply.Response, "cancelled the book", "anything else"))
	apts, err := appointmentsFor(t.phone)
	t.check("nothing stored", err == nil && len(apts) == 0)
}

// 7. Validation and staff endpoints
func scenarioAPI(t *T) {
	status, _, err := doJSON(http.MethodPost, "/chat", map[string]string{"message": "   "})
	t.check("blank message rejected with 422", err == nil && status == http.StatusUnprocessableEntity)

	status, _, err = doJSON(http.MethodPost, "/chat", map[string]string{
		"message":    "hello",
		"session_id": strings.Repeat("x", 101),
	})
	t.check("long session id rejected with 422", err == nil && status == http.StatusUnprocessableEntity)

	status, data, err := doJSON(http.MethodGet, "/health", nil)
	t.check("health reachable", err == nil && status == http.StatusOK && strings.Contains(string(data), `"healthy"`))

	status, data, err = doJSON(http.MethodGet, "/slots?date=wednesday", nil)
	t.check("slots listed for wednesday", err == nil && status == http.StatusOK && strings.Contains(string(data), `"slots":["`))

	status, _, err = doJSON(http.MethodGet, "/slots?date=sunday", nil)
	t.check("sunday answers without error", err == nil && status == http.StatusOK)
}

func main() {
	apiBase = strings.TrimRight(os.Getenv("API_BASE_URL"), "/")
	if apiBase == "" {
		fmt.Fprintln(os.Stderr, "ERROR: API_BASE_URL required")
		os.Exit(1)
	}

	scenarios := []scenario{
		{"happy-path", scenarioHappyPath},
		{"french", scenarioFrench},
		{"view", scenarioView},
		{"edit", scenarioEdit},
		{"cancel", scenarioCancel},
		{"decline", scenarioDecline},
		{"api", scenarioAPI},
	}

	// Filter by name if argument provided
	filter := ""
	if len(os.Args) > 1 {
		filter = os.Args[1]
	}

	totalPassed := 0
	totalFailed := 0
	scenarioResults := make([]string, 0)

	for i, s := range scenarios {
		if filter != "" && s.Name != filter {
			continue
		}

		fmt.Printf("\n========================================\n")
		fmt.Printf("SCENARIO: %s\n", s.Name)
		fmt.Printf("========================================\n")

		t := &T{name: s.Name}
		if err := setup(t, i); err != nil {
			t.fatalf("setup: %v", err)
		} else {
			s.Fn(t)
			if err := purge(t); err != nil {
				fmt.Printf("    WARN: cleanup failed: %v\n", err)
			}
		}

		totalPassed += t.passed
		totalFailed += t.failed

		status := "✅"
		if t.failed > 0 {
			status = "❌"
		}
		scenarioResults = append(scenarioResults, fmt.Sprintf("  %s %s (%d passed, %d failed)", status, s.Name, t.passed, t.failed))
	}

	fmt.Printf("\n========================================\n")
	fmt.Println("SUMMARY")
	fmt.Printf("========================================\n")
	for _, r := range scenarioResults {
		fmt.Println(r)
	}
	fmt.Printf("\nTotal: %d passed, %d failed\n", totalPassed, totalFailed)

	if totalFailed > 0 {
		fmt.Println("\n❌ SOME TESTS FAILED")
		os.Exit(1)
	}
	fmt.Println("\n✅ ALL TESTS PASSED")
}
