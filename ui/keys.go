package ui

import (
	"sync"

	"github.com/eiannone/keyboard"
)

// Singleton buffered channel and one reader goroutine to avoid multiple
// keyboard opens and to make DrainKeys non-blocking across console phases.
var (
	keyCh     chan rune
	startOnce sync.Once
)

// KeyEsc is the rune emitted for the escape key.
const KeyEsc rune = 27

// StartKeyEvents returns a channel that emits single-key runes read without
// Enter. Enter arrives as '\r' and space as ' ' so the console can forward
// them to the instrument unchanged. It initializes a single background
// reader on first call; if opening the keyboard fails, an inert buffered
// channel is returned.
func StartKeyEvents() chan rune {
	startOnce.Do(func() {
		keyCh = make(chan rune, 64)
		if err := keyboard.Open(); err != nil {
			return
		}
		go func() {
			defer keyboard.Close()
			for {
				char, key, err := keyboard.GetKey()
				if err != nil {
					close(keyCh)
					return
				}
				var out rune
				switch key {
				case 0:
					out = char
				case keyboard.KeyEsc:
					out = KeyEsc
				case keyboard.KeyEnter:
					out = '\r'
				case keyboard.KeySpace:
					out = ' '
				default:
					continue
				}
				// Drop events if nobody is consuming; never block the reader.
				select {
				case keyCh <- out:
				default:
				}
			}
		}()
	})
	if keyCh == nil {
		keyCh = make(chan rune, 64)
	}
	return keyCh
}

// DrainKeys consumes any immediately available keys to avoid accidental
// triggers when entering a new console phase.
func DrainKeys() {
	ch := StartKeyEvents()
	for {
		select {
		case <-ch:
		default:
			return
		}
	}
}
