package audio

import (
	"errors"
	"fmt"
	"io"
	"os"

	"golang.org/x/term"
)

// ErrSelectionAborted is returned when the user leaves the picker with Ctrl+C.
var ErrSelectionAborted = errors.New("device selection aborted")

type pickAction int

const (
	pickNone pickAction = iota
	pickConfirm
	pickAbort
)

// pickKey applies one raw key sequence to the picker cursor.
func pickKey(buf []byte, cursor, count int) (int, pickAction) {
	switch {
	case len(buf) == 1 && (buf[0] == '\r' || buf[0] == '\n'):
		return cursor, pickConfirm
	case len(buf) == 1 && buf[0] == 3: // Ctrl+C
		return cursor, pickAbort
	case len(buf) == 1 && buf[0] == 'j',
		len(buf) == 3 && buf[0] == 0x1b && buf[1] == '[' && buf[2] == 'B':
		if cursor < count-1 {
			cursor++
		}
	case len(buf) == 1 && buf[0] == 'k',
		len(buf) == 3 && buf[0] == 0x1b && buf[1] == '[' && buf[2] == 'A':
		if cursor > 0 {
			cursor--
		}
	}
	return cursor, pickNone
}

func renderPicker(w io.Writer, devices []DeviceInfo, cursor int) {
	fmt.Fprint(w, "\r\x1b[J")
	fmt.Fprint(w, "Select microphone (↑/↓, Enter to confirm):\r\n\r\n")
	for i, d := range devices {
		btTag := ""
		if IsBluetooth(d.Name) {
			btTag = " \x1b[33m[⚠ lower audio quality]\x1b[0m"
		}
		if i == cursor {
			fmt.Fprintf(w, "  \x1b[1;36m▶ %s%s\x1b[0m\r\n", d.Name, btTag)
		} else {
			fmt.Fprintf(w, "    %s%s\r\n", d.Name, btTag)
		}
	}
}

// SelectDevice presents an interactive picker on the terminal and returns
// the chosen device. A single device is returned without prompting.
func SelectDevice(ctx Context) (*DeviceInfo, error) {
	devices, err := ctx.Devices()
	if err != nil {
		return nil, fmt.Errorf("enumerating devices: %w", err)
	}
	if len(devices) == 0 {
		return nil, fmt.Errorf("no capture devices found")
	}
	if len(devices) == 1 {
		return &devices[0], nil
	}

	fd := int(os.Stdin.Fd())
	oldState, err := term.MakeRaw(fd)
	if err != nil {
		return nil, fmt.Errorf("setting raw mode: %w", err)
	}
	defer term.Restore(fd, oldState)

	cursor := 0
	renderPicker(os.Stdout, devices, cursor)

	buf := make([]byte, 3)
	for {
		n, err := os.Stdin.Read(buf)
		if err != nil {
			return nil, fmt.Errorf("reading input: %w", err)
		}

		var action pickAction
		cursor, action = pickKey(buf[:n], cursor, len(devices))
		switch action {
		case pickConfirm:
			fmt.Print("\r\n")
			return &devices[cursor], nil
		case pickAbort:
			fmt.Print("\r\n")
			return nil, ErrSelectionAborted
		}

		fmt.Printf("\x1b[%dA", len(devices)+2)
		renderPicker(os.Stdout, devices, cursor)
	}
}
