package peakcan

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/fatih/color"
)

var (
	yellow = color.New(color.FgHiBlue).SprintfFunc()
	red    = color.New(color.FgRed).SprintfFunc()
	green  = color.New(color.FgGreen).SprintfFunc()
)

func (f Frame) String() string {
	return render(f.ID(), f.IsExtended(), f.flags(), f.msg.DATA[:f.msg.LEN], true, false)
}

func (f Frame) ColorString() string {
	return render(f.ID(), f.IsExtended(), f.flags(), f.msg.DATA[:f.msg.LEN], true, true)
}

func (f Frame) flags() string {
	var s string
	if f.IsRTR() {
		s += "R"
	}
	if f.IsEcho() {
		s += "E"
	}
	if f.IsErrorFrame() {
		s += "!"
	}
	return s
}

// String omits the binary column, 64 bytes of bits do not fit a line.
func (f FDFrame) String() string {
	return render(f.ID(), f.IsExtended(), f.flags(), f.msg.DATA[:f.Len()], false, false)
}

func (f FDFrame) ColorString() string {
	return render(f.ID(), f.IsExtended(), f.flags(), f.msg.DATA[:f.Len()], false, true)
}

func (f FDFrame) flags() string {
	var s string
	if f.IsFD() {
		s += "F"
	}
	if f.IsBRS() {
		s += "B"
	}
	if f.IsESI() {
		s += "S"
	}
	if f.IsEcho() {
		s += "E"
	}
	return s
}

func render(id uint32, extended bool, flags string, data []byte, bin, colored bool) string {
	var out strings.Builder
	idFmt := "0x%03X"
	if extended {
		idFmt = "0x%08X"
	}
	ids := fmt.Sprintf(idFmt, id)
	if colored {
		ids = green(idFmt, id)
	}
	out.WriteString(ids + " || ")
	if flags != "" {
		out.WriteString(flags + " || ")
	}
	out.WriteString(strconv.Itoa(len(data)) + " || ")

	var hexView strings.Builder
	for i, b := range data {
		hexView.WriteString(fmt.Sprintf("%02X", b))
		if i != len(data)-1 {
			hexView.WriteString(" ")
		}
	}
	out.WriteString(fmt.Sprintf("%-23s", hexView.String()))
	out.WriteString(" || ")

	if bin {
		var binView strings.Builder
		for i, b := range data {
			binView.WriteString(fmt.Sprintf("%08b", b))
			if i != len(data)-1 {
				binView.WriteString(" ")
			}
		}
		bv := fmt.Sprintf("%-71s", binView.String())
		if colored {
			bv = red("%s", bv)
		}
		out.WriteString(bv)
		out.WriteString(" || ")
	}

	p := onlyPrintable(data)
	if colored {
		p = yellow("%s", p)
	}
	out.WriteString(p)
	return out.String()
}

func onlyPrintable(data []byte) string {
	var out strings.Builder
	for _, b := range data {
		if b < 32 || b > 126 {
			out.WriteString("·")
		} else {
			out.WriteByte(b)
		}
	}
	return out.String()
}
