// Package replay provides a classifier.Engine that plays back recorded score
// rows at a fixed rate. It stands in for a live classification service in
// demos, soak tests and the simulator.
//
// The row format is one result per line. Fields are separated by commas or
// whitespace; blank lines and lines starting with '#' are skipped. A line
// with a single value v is read as the two-class vector [1-v, v]:
//
//	# background, speech
//	0.91,0.09
//	0.12 0.88
//	0.95
package replay

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/MrWong99/radiogate/pkg/provider/classifier"
)

// DefaultInterval is the delay between replayed results, matching a
// classifier hop of 500ms windows at the default overlap.
const DefaultInterval = 250 * time.Millisecond

// ParseScores reads score rows from r.
func ParseScores(r io.Reader) ([][]float64, error) {
	var rows [][]float64
	sc := bufio.NewScanner(r)
	line := 0
	for sc.Scan() {
		line++
		text := strings.TrimSpace(sc.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}
		fields := strings.FieldsFunc(text, func(r rune) bool {
			return r == ',' || r == ' ' || r == '\t'
		})
		row := make([]float64, 0, len(fields))
		for _, f := range fields {
			v, err := strconv.ParseFloat(f, 64)
			if err != nil {
				return nil, fmt.Errorf("replay: line %d: %w", line, err)
			}
			row = append(row, v)
		}
		if len(row) == 1 {
			row = []float64{1 - row[0], row[0]}
		}
		rows = append(rows, row)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("replay: read: %w", err)
	}
	return rows, nil
}

// Option is a functional option for configuring the Provider.
type Option func(*Provider)

// WithInterval sets the delay between results.
func WithInterval(d time.Duration) Option {
	return func(p *Provider) {
		if d > 0 {
			p.interval = d
		}
	}
}

// WithLoop restarts from the first row after the last one instead of
// ending the session.
func WithLoop(loop bool) Option {
	return func(p *Provider) {
		p.loop = loop
	}
}

// WithLabels attaches labels to every result.
func WithLabels(labels ...string) Option {
	return func(p *Provider) {
		p.labels = labels
	}
}

// Provider implements classifier.Engine over a fixed set of rows.
type Provider struct {
	rows     [][]float64
	labels   []string
	interval time.Duration
	loop     bool
}

// Ensure Provider implements classifier.Engine at compile time.
var _ classifier.Engine = (*Provider)(nil)

// New returns a Provider replaying rows.
func New(rows [][]float64, opts ...Option) (*Provider, error) {
	if len(rows) == 0 {
		return nil, errors.New("replay: no score rows")
	}
	p := &Provider{rows: rows, interval: DefaultInterval}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// Open parses the rows in the file at path and returns a Provider.
func Open(path string, opts ...Option) (*Provider, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("replay: open %q: %w", path, err)
	}
	defer f.Close()
	rows, err := ParseScores(f)
	if err != nil {
		return nil, fmt.Errorf("replay: %q: %w", path, err)
	}
	return New(rows, opts...)
}

// Rows returns the number of rows replayed per pass.
func (p *Provider) Rows() int { return len(p.rows) }

// Listen starts a session that emits one result per interval. cfg is
// validated but otherwise unused; the rows are already classified.
func (p *Provider) Listen(ctx context.Context, cfg classifier.Config) (classifier.SessionHandle, error) {
	if err := cfg.WithDefaults().Validate(); err != nil {
		return nil, err
	}
	s := &session{
		results: make(chan classifier.Result),
		done:    make(chan struct{}),
		exited:  make(chan struct{}),
	}
	go s.run(ctx, p)
	return s, nil
}

type session struct {
	results chan classifier.Result
	done    chan struct{}
	exited  chan struct{}
	once    sync.Once

	mu  sync.Mutex
	err error
}

func (s *session) run(ctx context.Context, p *Provider) {
	defer close(s.exited)
	defer close(s.results)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for i := 0; ; i++ {
		if i == len(p.rows) {
			if !p.loop {
				return
			}
			i = 0
		}
		select {
		case <-s.done:
			return
		case <-ctx.Done():
			s.mu.Lock()
			s.err = ctx.Err()
			s.mu.Unlock()
			return
		case <-ticker.C:
		}
		r := classifier.Result{Scores: p.rows[i], Labels: p.labels, At: time.Now()}
		select {
		case s.results <- r:
		case <-s.done:
			return
		case <-ctx.Done():
			return
		}
	}
}

func (s *session) Results() <-chan classifier.Result { return s.results }

func (s *session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *session) Close() error {
	s.once.Do(func() { close(s.done) })
	<-s.exited
	return nil
}
