package checkpoints

import (
	"bytes"
	"fmt"
	"sort"
	"strings"
	"text/template"
)

// DefaultEpochs are the zero-based epoch indices saved by default: the last
// epoch of every 25-epoch block of a 200-epoch run.
var DefaultEpochs = []int{24, 49, 74, 99, 124, 149, 174, 199}

// Policy decides whether the model is saved after an epoch.
type Policy interface {
	ShouldSave(epoch int) bool
}

// PolicyFunc adapts a function to Policy.
type PolicyFunc func(epoch int) bool

func (f PolicyFunc) ShouldSave(epoch int) bool { return f(epoch) }

// EpochSet saves exactly at the listed epochs.
type EpochSet map[int]struct{}

// Epochs builds an EpochSet. With no arguments it selects nothing.
func Epochs(epochs ...int) EpochSet {
	s := make(EpochSet, len(epochs))
	for _, e := range epochs {
		s[e] = struct{}{}
	}
	return s
}

// DefaultPolicy saves at DefaultEpochs.
func DefaultPolicy() EpochSet {
	return Epochs(DefaultEpochs...)
}

func (s EpochSet) ShouldSave(epoch int) bool {
	_, ok := s[epoch]
	return ok
}

// Sorted returns the selected epochs in ascending order.
func (s EpochSet) Sorted() []int {
	out := make([]int, 0, len(s))
	for e := range s {
		out = append(out, e)
	}
	sort.Ints(out)
	return out
}

// DefaultNamePattern reproduces ./model_{epoch}_{exp}.pth.
const DefaultNamePattern = "{{.Dir}}model_{{.Epoch}}_{{.Exp}}.pth"

// NameFields are the values available to a checkpoint name template.
type NameFields struct {
	Dir   string
	Epoch int
	Exp   string
}

// NameTemplate renders checkpoint file names.
type NameTemplate struct {
	tmpl *template.Template
	dir  string
}

// NewNameTemplate parses pattern. An empty pattern uses DefaultNamePattern
// and an empty dir means "./". A trailing slash is added to dir when missing.
func NewNameTemplate(pattern, dir string) (*NameTemplate, error) {
	if pattern == "" {
		pattern = DefaultNamePattern
	}
	tmpl, err := template.New("checkpoint").Option("missingkey=error").Parse(pattern)
	if err != nil {
		return nil, fmt.Errorf("invalid checkpoint name pattern %q: %w", pattern, err)
	}
	if dir == "" {
		dir = "./"
	}
	if !strings.HasSuffix(dir, "/") {
		dir += "/"
	}
	return &NameTemplate{tmpl: tmpl, dir: dir}, nil
}

// Name returns the file name for a checkpoint of exp at epoch.
func (n *NameTemplate) Name(epoch int, exp string) (string, error) {
	var buf bytes.Buffer
	if err := n.tmpl.Execute(&buf, NameFields{Dir: n.dir, Epoch: epoch, Exp: exp}); err != nil {
		return "", fmt.Errorf("failed to render checkpoint name: %w", err)
	}
	return buf.String(), nil
}
