package main

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/sisatech/tablewriter"
)

// numbersMode determines which numbers format a printableSize renders to.
var numbersMode int

// setNumbersMode parses s and sets numbersMode accordingly. Grounded on
// vorteil's SetNumbersMode/PrintableSize pair.
func setNumbersMode(s string) error {
	s = strings.ToLower(strings.TrimSpace(s))
	switch s {
	case "", "short":
		numbersMode = 0
	case "dec", "decimal":
		numbersMode = 1
	case "hex", "hexadecimal":
		numbersMode = 2
	default:
		return fmt.Errorf("numbers mode must be one of 'dec', 'hex', or 'short'")
	}
	return nil
}

type printableSize int64

func (c printableSize) String() string {
	switch numbersMode {
	case 0:
		x := int64(c)
		if x == 0 {
			return "0"
		}
		var units int
		suffixes := []string{"", "K", "M", "G"}
		for x%1024 == 0 && units < len(suffixes)-1 {
			x /= 1024
			units++
		}
		return fmt.Sprintf("%d%s", x, suffixes[units])
	case 1:
		return fmt.Sprintf("%d", int64(c))
	case 2:
		return fmt.Sprintf("%#x", int64(c))
	default:
		panic("invalid numbersMode")
	}
}

// plainTable prints a header-less grid with automatic column alignment
// (vals[0] is a placeholder header row and is not printed).
func plainTable(vals [][]string) {
	if len(vals) == 0 {
		panic(errors.New("no rows provided"))
	}

	table := tablewriter.NewWriter(os.Stdout)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetBorder(false)
	table.SetColumnSeparator("")
	for i := 1; i < len(vals); i++ {
		table.Append(vals[i])
	}
	table.Render()
}
