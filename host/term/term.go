// Package term drives a full-screen terminal: raw key intake for the console
// and a dashboard renderer for the status task.
package term

import (
	"container/list"
	"fmt"
	"sync"
	"time"

	"github.com/nsf/termbox-go"

	"goverter/core"
	"goverter/host/console"
	"goverter/host/status"
)

const maxMessages = 3

// Terminal owns termbox between Open and Close.
type Terminal struct {
	mu       sync.Mutex
	title    string
	events   chan termbox.Event
	poll     time.Duration
	messages *list.List
}

// Open initialises termbox and starts polling for key events.
func Open(title string) (*Terminal, error) {
	if err := termbox.Init(); err != nil {
		return nil, fmt.Errorf("termbox init: %w", err)
	}
	t := &Terminal{
		title:    title,
		events:   make(chan termbox.Event, 16),
		poll:     console.DefaultPoll,
		messages: list.New(),
	}
	go func() {
		for {
			ev := termbox.PollEvent()
			t.events <- ev
			if ev.Type == termbox.EventInterrupt {
				return
			}
		}
	}()
	return t, nil
}

// Close stops the key poller and restores the terminal.
func (t *Terminal) Close() {
	termbox.Interrupt()
	termbox.Close()
}

// ReadKey implements console.KeySource. Ctrl-C and Esc report console.ErrQuit
// since raw mode suppresses SIGINT.
func (t *Terminal) ReadKey() (byte, error) {
	timer := time.NewTimer(t.poll)
	defer timer.Stop()
	select {
	case ev := <-t.events:
		return translate(ev)
	case <-timer.C:
		return 0, console.ErrNoKey
	}
}

func translate(ev termbox.Event) (byte, error) {
	switch ev.Type {
	case termbox.EventKey:
		switch {
		case ev.Key == termbox.KeyCtrlC || ev.Key == termbox.KeyEsc:
			return 0, console.ErrQuit
		case ev.Ch > 0 && ev.Ch < 128:
			return byte(ev.Ch), nil
		}
	case termbox.EventError:
		return 0, ev.Err
	case termbox.EventInterrupt:
		return 0, console.ErrQuit
	}
	return 0, console.ErrNoKey
}

// Write implements io.Writer for console echo lines: each non-empty line
// becomes a timestamped dashboard message.
func (t *Terminal) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	start := 0
	for i, b := range p {
		if b != '\n' {
			continue
		}
		if i > start {
			t.logMessage(string(p[start:i]))
		}
		start = i + 1
	}
	if start < len(p) {
		t.logMessage(string(p[start:]))
	}
	return len(p), nil
}

func (t *Terminal) logMessage(msg string) {
	formatted := fmt.Sprintf("%s %s", time.Now().Format("15:04:05.000"), msg)
	t.messages.PushFront(formatted)
	if t.messages.Len() > maxMessages {
		t.messages.Remove(t.messages.Back())
	}
}

// Render implements status.Renderer.
func (t *Terminal) Render(st core.Status) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if err := termbox.Clear(termbox.ColorDefault, termbox.ColorDefault); err != nil {
		return err
	}
	w := &lineWriter{}
	w.WriteLine("=== "+t.title+" ===", termbox.ColorWhite)

	modeColor := termbox.ColorGreen
	if st.Stage == core.StagePower {
		modeColor = termbox.ColorRed
	}
	w.WriteLine("=== Status ===", termbox.ColorWhite)
	w.IndentLine(status.FormatLine(st), modeColor)
	for _, line := range status.Summary(st) {
		w.IndentLine(line, termbox.ColorWhite)
	}

	w.WriteLine("=== Messages ===", termbox.ColorWhite)
	for e := t.messages.Front(); e != nil; e = e.Next() {
		w.IndentLine(e.Value.(string), termbox.ColorWhite)
	}
	w.WriteLine("keys: h help, i idle, p power, u/j amplitude, f/v frequency, Esc quit", termbox.ColorCyan)
	return termbox.Flush()
}

type lineWriter struct {
	Line int
}

func (w *lineWriter) WriteLine(str string, fg termbox.Attribute) {
	w.put(0, str, fg)
}

func (w *lineWriter) IndentLine(str string, fg termbox.Attribute) {
	w.put(3, str, fg)
}

func (w *lineWriter) put(indent int, str string, fg termbox.Attribute) {
	x := indent
	for _, r := range str {
		termbox.SetCell(x, w.Line, r, fg, termbox.ColorDefault)
		x++
	}
	w.Line++
}
