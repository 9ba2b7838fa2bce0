package papers

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestExtractArxivID(t *testing.T) {
	t.Parallel()

	cases := map[string]string{
		"https://huggingface.co/papers/2508.10711":     "2508.10711",
		"https://huggingface.co/papers/2508.10711v2":   "2508.10711",
		"https://huggingface.co/papers/12345.6789":     "12345.6789",
		"https://arxiv.org/abs/2401.00001v3":           "2401.00001",
		"https://huggingface.co/papers/date/2025-01-10": "",
		"https://example.com/papers/2508.10711":        "",
		"":                                              "",
	}
	for in, want := range cases {
		require.Equal(t, want, ExtractArxivID(in), in)
	}
}

func TestParseDirection(t *testing.T) {
	t.Parallel()

	for _, raw := range []string{"", "prev", "next"} {
		_, err := ParseDirection(raw)
		require.NoError(t, err)
	}
	_, err := ParseDirection("sideways")
	require.ErrorIs(t, err, ErrInvalidInput)
}

func TestFormatDateUsesUTC(t *testing.T) {
	t.Parallel()

	east := time.FixedZone("UTC+9", 9*3600)
	require.Equal(t, "2025-02-28", FormatDate(time.Date(2025, 3, 1, 8, 0, 0, 0, east)))
}

func TestArchiveKeyRoundTrip(t *testing.T) {
	t.Parallel()

	key := ArchiveKey("daily", "2025-01-10")
	require.Equal(t, "daily/2025-01-10.html", key)
	date, ok := ArchiveDate(key)
	require.True(t, ok)
	require.Equal(t, "2025-01-10", date)

	require.Equal(t, "2025-01-10.html", ArchiveKey("", "2025-01-10"))
	for _, bad := range []string{"daily/latest.html", "daily/2025-01-10.json", "daily/2025-13-40.html"} {
		_, ok := ArchiveDate(bad)
		require.False(t, ok, bad)
	}
}

func TestAgeBucket(t *testing.T) {
	t.Parallel()

	require.Equal(t, AgeWithinHour, AgeBucket(30*time.Minute))
	require.Equal(t, AgeWithinDay, AgeBucket(2*time.Hour))
	require.Equal(t, AgeWithinDay, AgeBucket(23*time.Hour))
	require.Equal(t, AgeWithinWeek, AgeBucket(48*time.Hour))
	require.Equal(t, AgeOlder, AgeBucket(8*24*time.Hour))
}

func TestFetchOutcomeError(t *testing.T) {
	t.Parallel()

	require.NoError(t, Success("2025-01-10", "<html>").Error())
	require.ErrorIs(t, HTTPError(500).Error(), ErrNetwork)
	require.ErrorIs(t, UnexpectedContent("2025-01-10", "").Error(), ErrUpstreamShape)

	cause := errors.New("dial tcp: timeout")
	err := NetworkError(cause).Error()
	require.ErrorIs(t, err, ErrNetwork)
	require.ErrorIs(t, err, cause)
	require.Equal(t, "network_error", OutcomeNetworkError.String())
}

func TestDocumentURL(t *testing.T) {
	t.Parallel()

	require.Equal(t, "https://arxiv.org/pdf/2508.10711.pdf", DocumentURL("https://arxiv.org/pdf/%s.pdf", "2508.10711"))
	require.Equal(t, "https://x/2508.10711", DocumentURL("https://x/", "2508.10711"))
}
