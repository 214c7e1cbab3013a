package bot

import (
	"strconv"
	"strings"

	"github.com/veebot/veebot/pkg/errors"
)

// args iterates the whitespace-split words after the command name
type args struct {
	words []string
	next  int
}

func newArgs(words []string) *args {
	return &args{words: words}
}

// More reports whether unconsumed arguments remain
func (a *args) More() bool {
	return a.next < len(a.words)
}

// Word consumes and returns the next argument
func (a *args) Word() (string, bool) {
	if !a.More() {
		return "", false
	}
	w := a.words[a.next]
	a.next++
	return w, true
}

// Int consumes the next argument as an integer
func (a *args) Int() (int, error) {
	word, _ := a.Word()
	n, err := strconv.Atoi(word)
	if err != nil {
		return 0, errors.New(errors.ParseInt{Arg: word, Cause: err})
	}
	return n, nil
}

// Rest consumes everything left as a single space-joined string
func (a *args) Rest() string {
	s := strings.Join(a.words[a.next:], " ")
	a.next = len(a.words)
	return s
}

// Words consumes everything left as separate words
func (a *args) Words() []string {
	out := a.words[a.next:]
	a.next = len(a.words)
	return out
}
