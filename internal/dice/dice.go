// Package dice parses and resolves chat dice-roll commands such as
// "2d20 + 3 dh". A command rolls count dice with the given number of
// sides, optionally adds a signed modifier, and optionally drops the
// highest (dh) or lowest (dl) die from the sum.
package dice

import (
	"errors"
	"fmt"
	"math/rand"
	"regexp"
	"strconv"
	"strings"
)

// ValidSides lists the supported die types.
var ValidSides = []int{4, 6, 8, 10, 12, 20, 100}

// MaxCount is the largest number of dice a single command may roll.
const MaxCount = 100

var (
	ErrInvalidFormat = errors.New("invalid dice roll format. Use: /r [count]d[sides] [+/- modifier] [dh/dl]")
	ErrInvalidSides  = errors.New("invalid dice type. Use d4, d6, d8, d10, d12, d20, or d100")
	ErrCountRange    = errors.New("dice count must be between 1 and 100")
	ErrDropSingleDie = errors.New("cannot use dh/dl with only 1 die")
)

// Drop selects which extreme die is excluded from the sum.
type Drop string

const (
	DropNone    Drop = ""
	DropHighest Drop = "dh"
	DropLowest  Drop = "dl"
)

// Command is a parsed and validated dice command.
type Command struct {
	Count    int
	Sides    int
	Modifier int
	Drop     Drop
}

// Result captures a resolved roll. The JSON field names are part of the
// stored message format and must stay stable.
type Result struct {
	Count        int     `json:"count"`
	Sides        int     `json:"sides"`
	Rolls        []int   `json:"rolls"`
	DroppedIndex *int    `json:"droppedIndex"`
	Modifier     int     `json:"modifier"`
	DropModifier *string `json:"dropModifier"`
	Sum          int     `json:"sum"`
}

// The modifier clause and the drop clause may appear in either order, so
// the pattern has one alternative per order.
var commandPattern = regexp.MustCompile(
	`(?i)^(\d+)d(\d+)(?:\s*([+-])\s*(\d+))?\s*(dh|dl)?$|^(\d+)d(\d+)\s*(dh|dl)(?:\s*([+-])\s*(\d+))?$`)

// Parse validates a dice expression (the part after the "/r " prefix).
// Validation order: grammar, sides, count, then drop clause.
func Parse(expr string) (Command, error) {
	trimmed := strings.TrimSpace(expr)

	m := commandPattern.FindStringSubmatch(trimmed)
	if m == nil {
		return Command{}, ErrInvalidFormat
	}

	pick := func(a, b string) string {
		if a != "" {
			return a
		}
		return b
	}

	count, _ := strconv.Atoi(pick(m[1], m[6]))
	sides, _ := strconv.Atoi(pick(m[2], m[7]))
	modSign := pick(m[3], m[9])
	modValue := pick(m[4], m[10])
	drop := Drop(strings.ToLower(pick(m[5], m[8])))

	if !validSides(sides) {
		return Command{}, ErrInvalidSides
	}
	if count < 1 || count > MaxCount {
		return Command{}, ErrCountRange
	}
	if drop != DropNone && count < 2 {
		return Command{}, ErrDropSingleDie
	}

	modifier := 0
	if modSign != "" && modValue != "" {
		modifier, _ = strconv.Atoi(modValue)
		if modSign == "-" {
			modifier = -modifier
		}
	}

	return Command{Count: count, Sides: sides, Modifier: modifier, Drop: drop}, nil
}

func validSides(sides int) bool {
	for _, s := range ValidSides {
		if s == sides {
			return true
		}
	}
	return false
}

// RollDice draws count independent uniform values in [1, sides].
func RollDice(count, sides int) []int {
	rolls := make([]int, count)
	for i := range rolls {
		rolls[i] = rand.Intn(sides) + 1
	}
	return rolls
}

// DropIndex returns the index of the die excluded by the drop clause, or
// nil when there is none. Ties resolve to the first occurrence.
func DropIndex(rolls []int, drop Drop) *int {
	if drop == DropNone || len(rolls) == 0 {
		return nil
	}

	idx := 0
	for i := 1; i < len(rolls); i++ {
		switch drop {
		case DropHighest:
			if rolls[i] > rolls[idx] {
				idx = i
			}
		case DropLowest:
			if rolls[i] < rolls[idx] {
				idx = i
			}
		}
	}
	return &idx
}

// Evaluate resolves a command against an already-rolled set of dice.
// Split from Roll so the arithmetic is testable with fixed rolls.
func Evaluate(cmd Command, rolls []int) Result {
	dropped := DropIndex(rolls, cmd.Drop)

	sum := 0
	for i, v := range rolls {
		if dropped != nil && i == *dropped {
			continue
		}
		sum += v
	}
	sum += cmd.Modifier

	res := Result{
		Count:        cmd.Count,
		Sides:        cmd.Sides,
		Rolls:        rolls,
		DroppedIndex: dropped,
		Modifier:     cmd.Modifier,
		Sum:          sum,
	}
	if cmd.Drop != DropNone {
		d := string(cmd.Drop)
		res.DropModifier = &d
	}
	return res
}

// Roll resolves a parsed command with fresh random dice.
func Roll(cmd Command) Result {
	return Evaluate(cmd, RollDice(cmd.Count, cmd.Sides))
}

// Notation renders the canonical command string, e.g. "2d20 + 3 dh".
func (c Command) Notation() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%dd%d", c.Count, c.Sides)
	if c.Modifier != 0 {
		sign := "+"
		abs := c.Modifier
		if c.Modifier < 0 {
			sign = "-"
			abs = -abs
		}
		fmt.Fprintf(&b, " %s %d", sign, abs)
	}
	if c.Drop != DropNone {
		fmt.Fprintf(&b, " %s", c.Drop)
	}
	return b.String()
}

/// Display renders the canonical three-line chat output: the echoed
// command, the individual rolls with the dropped die bracketed, and the
// final sum.
func (r Result) Display(cmd Command) string {
	var rolls strings.Builder
	for i, v := range r.Rolls {
		if i > 0 {
			rolls.WriteString(" + ")
		}
		if r.DroppedIndex != nil && i == *r.DroppedIndex {
			fmt.Fprintf(&rolls, "[%d]", v)
		} else {
			fmt.Fprintf(&rolls, "%d", v)
		}
	}
	if r.Modifier != 0 {
		sign := "+"
		abs := r.Modifier
		if r.Modifier < 0 {
			sign = "-"
			abs = -abs
		}
		fmt.Fprintf(&rolls, " (%s %d)", sign, abs)
	}

	return fmt.Sprintf("/r %s\nrolled: %s\nsum = %d", cmd.Notation(), rolls.String(), r.Sum)
}

// RedactedDisplay renders the blind variant shown to the roller: die
// faces and the sum are replaced by an unknown-value marker.
func (r Result) RedactedDisplay(cmd Command) string {
	marks := make([]string, cmd.Count)
	for i := range marks {
		marks[i] = "?"
	}
	return fmt.Sprintf("/r %s\nrolled: %s\nsum = ?", cmd.Notation(), strings.Join(marks, " + "))
}
