package corpus

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
)

// Message roles.
const (
	RoleDeveloper = "developer"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is one turn of a chat training example.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Example is one line of the training corpus.
type Example struct {
	Messages []Message `json:"messages"`
}

// NewExample builds an example answering user with reply. The developer
// message is left out when empty.
func NewExample(developer, user, reply string) Example {
	msgs := make([]Message, 0, 3)
	if developer != "" {
		msgs = append(msgs, Message{Role: RoleDeveloper, Content: developer})
	}
	msgs = append(msgs,
		Message{Role: RoleUser, Content: user},
		Message{Role: RoleAssistant, Content: reply},
	)
	return Example{Messages: msgs}
}

// AssistantMessage returns the content the model is trained to produce.
func (e Example) AssistantMessage() string {
	for i := len(e.Messages) - 1; i >= 0; i-- {
		if e.Messages[i].Role == RoleAssistant {
			return e.Messages[i].Content
		}
	}
	return ""
}

// ReadExamples calls fn for every example in a corpus file.
func ReadExamples(path string, fn func(Example) error) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("opening examples: %w", err)
	}
	defer f.Close()

	dec := json.NewDecoder(bufio.NewReader(f))
	for line := 1; ; line++ {
		var ex Example
		if err := dec.Decode(&ex); err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return fmt.Errorf("decoding example %d: %w", line, err)
		}
		if err := fn(ex); err != nil {
			return err
		}
	}
}

// readCustomPrompts returns the prompt/reply pairs of a custom prompts file.
// Each line is an object mapping prompts to replies; pairs within a line are
// returned in prompt order.
func readCustomPrompts(path string) ([][2]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var pairs [][2]string
	dec := json.NewDecoder(bufio.NewReader(f))
	for line := 1; ; line++ {
		var obj map[string]string
		if err := dec.Decode(&obj); err != nil {
			if errors.Is(err, io.EOF) {
				return pairs, nil
			}
			return nil, fmt.Errorf("decoding custom prompt %d: %w", line, err)
		}

		prompts := make([]string, 0, len(obj))
		for p := range obj {
			prompts = append(prompts, p)
		}
		sort.Strings(prompts)
		for _, p := range prompts {
			pairs = append(pairs, [2]string{p, obj[p]})
		}
	}
}
