package interview

import (
	"strings"

	"golang.org/x/text/cases"

	"github.com/tjfontaine/storefront-studio/internal/storefront"
)

// Mode is the controller's state machine position.
type Mode string

const (
	ModeScripted Mode = "scripted"
	ModeFreeForm Mode = "free_form"
)

// State is the externally visible interview position.
type State struct {
	Mode        Mode `json:"mode"`
	ScriptIndex int  `json:"script_index"`
	Completed   bool `json:"completed"`
}

// Controller tracks the position in a Script. It is not safe for concurrent
// use; the owning session serializes access.
type Controller struct {
	script    Script
	lower     cases.Caser
	index     int
	freeForm  bool
	completed bool
	returning bool
}

// NewController starts an interview at question 0, or directly in free-form
// mode when the store already has a backing shop.
func NewController(script Script, hasResource bool) *Controller {
	c := &Controller{
		script:    script,
		lower:     cases.Lower(script.Language()),
		returning: hasResource,
	}
	if hasResource {
		c.freeForm = true
		c.completed = true
	}
	return c
}

// State returns the current position.
func (c *Controller) State() State {
	mode := ModeScripted
	if c.freeForm {
		mode = ModeFreeForm
	}
	return State{Mode: mode, ScriptIndex: c.index, Completed: c.completed}
}

// Scripted reports whether scripted questions are still being asked.
func (c *Controller) Scripted() bool {
	return !c.freeForm
}

// Greeting is the first assistant message of a session.
func (c *Controller) Greeting() string {
	if c.returning {
		return c.script.Returning
	}
	q, ok := c.CurrentQuestion()
	if !ok {
		return c.script.Welcome
	}
	if c.script.Welcome == "" {
		return q
	}
	return c.script.Welcome + " " + q
}

// CurrentQuestion returns the scripted question at the current index.
func (c *Controller) CurrentQuestion() (string, bool) {
	if c.freeForm || c.index >= len(c.script.Questions) {
		return "", false
	}
	return c.script.Questions[c.index], true
}

// Advance moves to the next scripted question, switching to free-form once
// the script is exhausted. It returns the question now current, if any.
func (c *Controller) Advance() (string, bool) {
	if c.freeForm {
		return "", false
	}
	c.index++
	if c.index >= len(c.script.Questions) {
		c.freeForm = true
		c.completed = true
		return "", false
	}
	return c.script.Questions[c.index], true
}

// Complete ends the interview regardless of position.
func (c *Controller) Complete() {
	c.freeForm = true
	c.completed = true
}

// ExtractField maps the user's answer to an attribute when the question that
// prompted it matches a known fragment. Unknown phrasing yields an empty patch.
func (c *Controller) ExtractField(question, answer string) storefront.Configuration {
	answer = strings.TrimSpace(answer)
	if answer == "" || question == "" {
		return storefront.Configuration{}
	}
	q := c.lower.String(question)
	for _, e := range c.script.Extractions {
		if strings.Contains(q, c.lower.String(e.Fragment)) {
			return storefront.Configuration{e.Field: answer}
		}
	}
	return storefront.Configuration{}
}

// ShouldInjectNextQuestion is false when the assistant already asked
// something, so the scripted question is not stacked on top of it.
func ShouldInjectNextQuestion(reply string) bool {
	return !strings.ContainsAny(reply, "?¿")
}

// SignalsCompletion reports whether reply already tells the user the
// interview is over.
func (c *Controller) SignalsCompletion(reply string) bool {
	r := c.lower.String(reply)
	for _, m := range c.script.CompletionMarkers {
		if strings.Contains(r, c.lower.String(m)) {
			return true
		}
	}
	return false
}

// ConcludingMessage is appended when the assistant marks the final step.
func (c *Controller) ConcludingMessage() string {
	return c.script.Concluding
}
