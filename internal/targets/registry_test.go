package targets

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/storewatch/internal/monitor"
)

type stubResolver struct {
	links map[string]string
	calls int
}

func (s *stubResolver) Resolve(_ context.Context, rawURL string) (string, error) {
	s.calls++
	if to, ok := s.links[rawURL]; ok {
		return to, nil
	}
	return "", errors.New("no redirect")
}

const (
	grabURL  = "https://food.grab.com/ph/en/restaurant/jollibee-sm-megamall/2-C3T2LXXX"
	pandaURL = "https://www.foodpanda.ph/restaurant/ab12/jollibee-cubao"
)

func TestLoadTwoUniqueTargets(t *testing.T) {
	t.Parallel()

	reg := New(nil, nil, nil)
	src := "# storefronts\n" + grabURL + "\n\n" + pandaURL + "/\n"
	got, err := reg.Load(context.Background(), "targets.txt", []byte(src), FormatLines)
	require.NoError(t, err)
	require.Len(t, got, 2)

	require.Equal(t, monitor.PlatformGrabFood, got[0].Platform)
	require.Equal(t, grabURL, got[0].URL)
	require.Equal(t, "jollibee sm megamall", got[0].DisplayName)
	require.NotEmpty(t, got[0].ID)

	require.Equal(t, monitor.PlatformFoodpanda, got[1].Platform)
	require.Equal(t, pandaURL, got[1].URL)
	require.Equal(t, "jollibee cubao", got[1].DisplayName)
	require.NotEqual(t, got[0].ID, got[1].ID)
}

func TestLoadRejectsDuplicateAfterNormalization(t *testing.T) {
	t.Parallel()

	reg := New(nil, nil, nil)
	src := grabURL + "\n" + pandaURL + "\n" + grabURL + "/?utm_source=share#menu\n"
	_, err := reg.Load(context.Background(), "targets.txt", []byte(src), FormatLines)

	var cfgErr *monitor.ConfigError
	require.ErrorAs(t, err, &cfgErr)
	require.Equal(t, 3, cfgErr.Line)
	require.Contains(t, cfgErr.Reason, "duplicate of line 1")
}

func TestLoadRejectsUnknownPlatform(t *testing.T) {
	t.Parallel()

	reg := New(nil, nil, nil)
	_, err := reg.Load(context.Background(), "targets.txt", []byte("https://example.com/restaurant/x\n"), FormatLines)

	var cfgErr *monitor.ConfigError
	require.ErrorAs(t, err, &cfgErr)
	require.Contains(t, cfgErr.Reason, "cannot infer platform")
}

func TestLoadRejectsRelativeAndEmpty(t *testing.T) {
	t.Parallel()

	reg := New(nil, nil, nil)
	_, err := reg.Load(context.Background(), "targets.txt", []byte("food.grab.com/ph/x\n"), FormatLines)
	var cfgErr *monitor.ConfigError
	require.ErrorAs(t, err, &cfgErr)

	_, err = reg.Load(context.Background(), "targets.txt", []byte("# nothing\n"), FormatLines)
	require.ErrorAs(t, err, &cfgErr)
	require.Contains(t, cfgErr.Reason, "no targets")
}

func TestLoadRejectsOverlongLine(t *testing.T) {
	t.Parallel()

	reg := New(nil, nil, nil)
	src := grabURL + "\n" + pandaURL + "?q=" + strings.Repeat("x", 70*1024) + "\n"
	_, err := reg.Load(context.Background(), "targets.txt", []byte(src), FormatLines)

	var cfgErr *monitor.ConfigError
	require.ErrorAs(t, err, &cfgErr)
	require.Equal(t, "targets.txt", cfgErr.Source)
	require.Equal(t, 2, cfgErr.Line)
	require.Contains(t, cfgErr.Reason, "token too long")
}

func TestLoadResolvesShortLinks(t *testing.T) {
	t.Parallel()

	resolver := &stubResolver{links: map[string]string{
		"https://r.grab.com/o/abc": grabURL + "?src=share",
	}}
	reg := New(nil, resolver, nil)
	got, err := reg.Load(context.Background(), "targets.txt", []byte("https://r.grab.com/o/abc\n"), FormatLines)
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.Equal(t, grabURL, got[0].URL)
	require.Equal(t, monitor.PlatformGrabFood, got[0].Platform)
	require.Equal(t, 1, resolver.calls)
}

func TestLoadShortLinkDuplicateOfDirectURL(t *testing.T) {
	t.Parallel()

	resolver := &stubResolver{links: map[string]string{"https://r.grab.com/o/abc": grabURL}}
	reg := New(nil, resolver, nil)
	src := grabURL + "\nhttps://r.grab.com/o/abc\n"
	_, err := reg.Load(context.Background(), "targets.txt", []byte(src), FormatLines)
	var cfgErr *monitor.ConfigError
	require.ErrorAs(t, err, &cfgErr)
	require.Equal(t, 2, cfgErr.Line)
}

func TestLoadShortLinkWithoutResolverOrCrossPlatform(t *testing.T) {
	t.Parallel()

	_, err := New(nil, nil, nil).Load(context.Background(), "t", []byte("https://r.grab.com/o/abc\n"), FormatLines)
	var cfgErr *monitor.ConfigError
	require.ErrorAs(t, err, &cfgErr)

	resolver := &stubResolver{links: map[string]string{"https://r.grab.com/o/abc": pandaURL}}
	_, err = New(nil, resolver, nil).Load(context.Background(), "t", []byte("https://r.grab.com/o/abc\n"), FormatLines)
	require.ErrorAs(t, err, &cfgErr)
	require.Contains(t, cfgErr.Reason, "not a grabfood storefront")
}

func TestLoadYAMLFormats(t *testing.T) {
	t.Parallel()

	reg := New(nil, nil, nil)
	nested := "targets:\n  - " + grabURL + "\n  - " + pandaURL + "\n"
	got, err := reg.Load(context.Background(), "t.yaml", []byte(nested), FormatYAML)
	require.NoError(t, err)
	require.Len(t, got, 2)

	flat := "- " + grabURL + "\n- " + grabURL + "/\n"
	_, err = reg.Load(context.Background(), "t.yaml", []byte(flat), FormatYAML)
	var cfgErr *monitor.ConfigError
	require.ErrorAs(t, err, &cfgErr)
	require.Equal(t, 2, cfgErr.Line)

	_, err = reg.Load(context.Background(), "t.yaml", []byte("targets: [\n"), FormatYAML)
	require.ErrorAs(t, err, &cfgErr)
	require.Contains(t, cfgErr.Reason, "malformed yaml")
}

func TestLoadFile(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "targets.yml")
	require.NoError(t, os.WriteFile(path, []byte("- "+pandaURL+"\n"), 0o600))

	reg := New(nil, nil, nil)
	got, err := reg.LoadFile(context.Background(), path)
	require.NoError(t, err)
	require.Len(t, got, 1)

	_, err = reg.LoadFile(context.Background(), filepath.Join(dir, "missing.txt"))
	var cfgErr *monitor.ConfigError
	require.ErrorAs(t, err, &cfgErr)
}

func TestNormalizeURL(t *testing.T) {
	t.Parallel()

	cases := []struct {
		in   string
		want string
	}{
		{"https://Food.Grab.com/ph/en/restaurant/x/2-ABC/", "https://food.grab.com/ph/en/restaurant/x/2-ABC"},
		{"  https://www.foodpanda.ph/restaurant/ab12/x?lang=en#top ", "https://www.foodpanda.ph/restaurant/ab12/x"},
		{"HTTP://foodpanda.ph", "http://foodpanda.ph"},
	}
	for _, tc := range cases {
		got, err := NormalizeURL(tc.in)
		require.NoError(t, err, tc.in)
		require.Equal(t, tc.want, got)
	}

	for _, bad := range []string{"", "ftp://foodpanda.ph/x", "/restaurant/x", "https://"} {
		_, err := NormalizeURL(bad)
		require.Error(t, err, bad)
	}
}
