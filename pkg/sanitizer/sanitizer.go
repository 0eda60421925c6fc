package sanitizer

import (
	"strings"
	"unicode"

	"reslock/pkg/model"
)

type Strategy func(string) string

type Pipeline []Strategy

func (p Pipeline) Apply(s string) string {
	for _, fn := range p {
		s = fn(s)
	}
	return s
}

func trim(s string) string {
	return strings.TrimSpace(s)
}

func dropInvisible(s string) string {
	return strings.Map(func(r rune) rune {
		if unicode.IsControl(r) || unicode.Is(unicode.Cf, r) {
			return -1
		}
		return r
	}, s)
}

// Resource and holder ids are case sensitive; only invisible noise is removed.
func SanitizeIdentifier(input string) string {
	p := Pipeline{
		dropInvisible,
		trim,
	}
	return p.Apply(input)
}

func SanitizeDate(input string) string {
	p := Pipeline{
		trim,
		func(s string) string {
			if len(s) > len(model.DateLayout) && (s[len(model.DateLayout)] == 'T' || s[len(model.DateLayout)] == ' ') {
				return s[:len(model.DateLayout)]
			}
			return s
		},
	}
	return p.Apply(input)
}

// SanitizeAcquireRequest normalizes req in place.
func SanitizeAcquireRequest(req *model.AcquireLockRequest) {
	if req == nil {
		return
	}
	req.ResourceID = SanitizeIdentifier(req.ResourceID)
	req.CheckIn = SanitizeDate(req.CheckIn)
	req.CheckOut = SanitizeDate(req.CheckOut)
}
