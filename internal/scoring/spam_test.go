package scoring

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDetectSpam(t *testing.T) {
	for _, tc := range []struct {
		name      string
		reasoning string
		previous  []string
		spam      bool
		reason    string
	}{
		{"Duplicate", "This is spam", []string{"This is spam"}, true, ReasonDuplicate},
		{"DuplicateIgnoresCaseAndSpace", "This is spam", []string{"  this IS spam  "}, true, ReasonDuplicate},
		{"DuplicateBeforeLength", "short", []string{"SHORT"}, true, ReasonDuplicate},
		{"TooShort", "short", nil, true, ReasonTooShort},
		{"TooShortAfterTrim", "   nine c  ", nil, true, ReasonTooShort},
		{"RepeatedCharacters", "aaaaaaaaaaaaaaaaaaa", nil, true, ReasonRepeated},
		{"RepeatedInsideText", "what a gre" + strings.Repeat("a", 11) + "t point", nil, true, ReasonRepeated},
		{"TenRepeatsAllowed", "what a gre" + strings.Repeat("a", 10) + "t point", nil, false, ""},
		{"NoVowels", "xyzzy qwrtp bcdfg", nil, true, ReasonGibberish},
		{"AllCapsLong", "THIS IS A VERY LOUD ARGUMENT", nil, true, ReasonGibberish},
		{"AllCapsShortAllowed", "OK THAT IS IT", nil, false, ""},
		{"NoSpacesLong", "thisisaverylongwordwithoutanyspacesatall", nil, true, ReasonGibberish},
		{"Valid", "This is a valid and well-reasoned evaluation with proper argumentation.", nil, false, ""},
		{"ValidWithOthers", goodReasoning, []string{"A different argument entirely."}, false, ""},
	} {
		t.Run(tc.name, func(t *testing.T) {
			spam, reason := DetectSpam(tc.reasoning, tc.previous)
			require.Equal(t, tc.spam, spam)
			require.Equal(t, tc.reason, reason)
		})
	}
}

func TestHasRun(t *testing.T) {
	require.True(t, hasRun("xxxxx", 5))
	require.False(t, hasRun("xxxx", 5))
	require.False(t, hasRun("xx\nxxx", 5))
	require.True(t, hasRun("ééééé", 5))
}
