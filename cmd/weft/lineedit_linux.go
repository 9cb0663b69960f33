//go:build linux

package main

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/sys/unix"
)

var replHistory []string

// readInteractiveLine reads one line with raw-mode editing: cursor
// movement, history on up/down and the usual control keys. Falls back to
// buffered reads when stdin is not a terminal.
func readInteractiveLine(prompt string) (string, error) {
	if !stdinIsTTY() {
		r := bufio.NewReader(os.Stdin)
		s, err := r.ReadString('\n')
		if err != nil && err != io.EOF {
			return "", err
		}
		if s == "" && err == io.EOF {
			return "", io.EOF
		}
		return trimTrailingNewline(s), nil
	}

	fd := int(os.Stdin.Fd())
	oldState, err := unix.IoctlGetTermios(fd, unix.TCGETS)
	if err != nil {
		return "", err
	}
	raw := *oldState
	raw.Lflag &^= unix.ICANON | unix.ECHO
	raw.Cc[unix.VMIN] = 1
	raw.Cc[unix.VTIME] = 0
	if err := unix.IoctlSetTermios(fd, unix.TCSETS, &raw); err != nil {
		return "", err
	}
	defer func() {
		_ = unix.IoctlSetTermios(fd, unix.TCSETS, oldState)
	}()

	var (
		line    []byte
		cursor  int
		esc     strings.Builder
		inEsc   int
		histPos = len(replHistory)
		draft   string
		buf     [16]byte
	)

	redraw := func() {
		fmt.Printf("\r%s%s\x1b[K", prompt, string(line))
		if cursor < len(line) {
			fmt.Printf("\r%s%s", prompt, string(line[:cursor]))
		}
	}

	deleteWordBack := func() {
		start := cursor
		for start > 0 && line[start-1] == ' ' {
			start--
		}
		for start > 0 && line[start-1] != ' ' {
			start--
		}
		if start == cursor {
			return
		}
		line = append(line[:start], line[cursor:]...)
		cursor = start
		redraw()
	}

	handleCSI := func(seq string) {
		switch seq {
		case "A": // history back
			if histPos > 0 {
				if histPos == len(replHistory) {
					draft = string(line)
				}
				histPos--
				line = append(line[:0], replHistory[histPos]...)
				cursor = len(line)
				redraw()
			}
		case "B": // history forward
			if histPos < len(replHistory) {
				histPos++
				if histPos == len(replHistory) {
					line = append(line[:0], draft...)
				} else {
					line = append(line[:0], replHistory[histPos]...)
				}
				cursor = len(line)
				redraw()
			}
		case "D":
			if cursor > 0 {
				cursor--
				redraw()
			}
		case "C":
			if cursor < len(line) {
				cursor++
				redraw()
			}
		case "H":
			cursor = 0
			redraw()
		case "F":
			cursor = len(line)
			redraw()
		case "3~": // delete
			if cursor < len(line) {
				line = append(line[:cursor], line[cursor+1:]...)
				redraw()
			}
		}
	}

	fmt.Print(prompt)
	for {
		n, err := os.Stdin.Read(buf[:])
		if err != nil {
			return "", err
		}
		for _, b := range buf[:n] {
			if inEsc == 1 {
				if b == '[' {
					inEsc = 2
					esc.Reset()
				} else {
					inEsc = 0
				}
				continue
			}
			if inEsc == 2 {
				esc.WriteByte(b)
				if (b >= 'A' && b <= 'Z') || b == '~' {
					handleCSI(esc.String())
					inEsc = 0
				}
				continue
			}

			switch b {
			case 27: // ESC
				inEsc = 1
			case '\r', '\n':
				fmt.Print("\r\n")
				out := string(line)
				if strings.TrimSpace(out) != "" {
					replHistory = append(replHistory, out)
				}
				return out, nil
			case 3: // Ctrl+C
				fmt.Print("^C\r\n")
				return "", io.EOF
			case 4: // Ctrl+D
				if len(line) == 0 {
					fmt.Print("\r\n")
					return "", io.EOF
				}
			case 127, 8: // backspace
				if cursor > 0 {
					line = append(line[:cursor-1], line[cursor:]...)
					cursor--
					redraw()
				}
			case 1: // Ctrl+A
				cursor = 0
				redraw()
			case 5: // Ctrl+E
				cursor = len(line)
				redraw()
			case 21: // Ctrl+U
				line = line[:0]
				cursor = 0
				redraw()
			case 23: // Ctrl+W
				deleteWordBack()
			default:
				if b >= 32 {
					line = append(line, 0)
					copy(line[cursor+1:], line[cursor:])
					line[cursor] = b
					cursor++
					redraw()
				}
			}
		}
	}
}
