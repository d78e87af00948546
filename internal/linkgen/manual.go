package linkgen

import (
	"strings"
	"unicode"

	"github.com/cockroachdb/errors"
)

var (
	ErrInvalidAddress  = errors.New("invalid address")
	ErrForbiddenPrefix = errors.New("address must not include the country prefix")
	ErrNoAddresses     = errors.New("no addresses")
	ErrNoMessages      = errors.New("no messages")
)

// forbiddenPrefix is the international form of the implicit country prefix.
const forbiddenPrefix = "+" + DefaultCountryPrefix

// ParseAddresses validates a manually pasted address list, one per line.
// Blank lines are skipped and inner whitespace is removed. An entry starting
// with the international country prefix is rejected; a single leading '+' is
// otherwise dropped.
func ParseAddresses(lines []string) ([]string, error) {
	out := make([]string, 0, len(lines))
	for i, raw := range lines {
		stripped := strings.TrimSpace(raw)
		if stripped == "" {
			continue
		}
		normalized := strings.Join(strings.Fields(stripped), "")
		if strings.HasPrefix(normalized, forbiddenPrefix) {
			return nil, errors.WithHintf(
				errors.Wrapf(ErrForbiddenPrefix, "line %d: %q", i+1, stripped),
				"remove the leading %s, it is added to every link", forbiddenPrefix,
			)
		}
		normalized = strings.TrimPrefix(normalized, "+")
		if !isDigits(normalized) {
			return nil, errors.Wrapf(ErrInvalidAddress, "line %d: %q", i+1, stripped)
		}
		out = append(out, normalized)
	}
	if len(out) == 0 {
		return nil, ErrNoAddresses
	}
	return out, nil
}

// ParseMessages keeps the trimmed non-blank lines of a message list.
func ParseMessages(lines []string) ([]string, error) {
	out := make([]string, 0, len(lines))
	for _, l := range lines {
		if s := strings.TrimSpace(l); s != "" {
			out = append(out, s)
		}
	}
	if len(out) == 0 {
		return nil, ErrNoMessages
	}
	return out, nil
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r > unicode.MaxASCII || !unicode.IsDigit(r) {
			return false
		}
	}
	return true
}

// ManualSequence computes the address used for each message.
//
// With count addresses, the base block repeats each address count times in
// order (count² entries). The block is repeated max(loops, ceil(total/block))
// times and truncated to the number of messages. The mapping deliberately
// favours earlier addresses; it is kept as-is until product decides whether
// a uniform rotation was intended.
func ManualSequence(addresses []string, total, loops int) []string {
	count := len(addresses)
	if count == 0 || total <= 0 {
		return nil
	}
	base := make([]string, 0, count*count)
	for _, a := range addresses {
		for i := 0; i < count; i++ {
			base = append(base, a)
		}
	}
	if loops < 1 {
		loops = 1
	}
	block := len(base)
	required := (total + block - 1) / block
	repeats := max(loops, required)

	// Only the first total entries survive truncation, so build no more.
	n := min(total, block*repeats)
	full := make([]string, n)
	for i := range full {
		full[i] = base[i%block]
	}
	return full
}

// FromManual pairs messages with the address sequence of ManualSequence and
// encodes each message verbatim. Either list being empty yields no links.
func (g *Generator) FromManual(addresses, messages []string, loops int) []string {
	if len(addresses) == 0 || len(messages) == 0 {
		return nil
	}
	seq := ManualSequence(addresses, len(messages), loops)
	links := make([]string, 0, len(seq))
	for i, a := range seq {
		links = append(links, g.Link(a, messages[i]))
	}
	return links
}
