package source

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brandbeacon/mentions-pipeline/internal/model"
)

const rssFixture = `<?xml version="1.0"?>
<rss version="2.0">
  <channel>
    <title>Acme Blog</title>
    <item>
      <title>Acme ships v2</title>
      <link>https://blog.acme.com/v2</link>
      <guid>acme-v2</guid>
      <pubDate>Wed, 01 May 2024 10:30:00 +0000</pubDate>
      <description><![CDATA[<p>Big <b>release</b></p>]]></description>
    </item>
    <item>
      <title>No metadata item</title>
    </item>
  </channel>
</rss>`

const atomFixture = `<?xml version="1.0"?>
<feed xmlns="http://www.w3.org/2005/Atom">
  <title>Acme Atom</title>
  <entry>
    <title>Atom entry</title>
    <id>urn:acme:1</id>
    <published>2024-05-01T10:30:00Z</published>
    <summary>Summary text</summary>
    <author><name>coyote</name></author>
    <link rel="alternate" href="https://blog.acme.com/atom/1"/>
  </entry>
</feed>`

func TestRSS_ParsesRSS2(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(rssFixture))
	}))
	defer srv.Close()

	s := NewRSS(newUnlimitedClient())
	brand := model.TrackedBrand{Name: "Acme", RSSFeeds: []string{srv.URL}}
	require.True(t, s.Enabled(brand))

	mentions, err := s.FetchMentions(context.Background(), brand)
	require.NoError(t, err)
	require.Len(t, mentions, 2)

	first := mentions[0]
	assert.Equal(t, "acme-v2", first.ID)
	assert.Equal(t, "https://blog.acme.com/v2", first.URL)
	assert.Equal(t, model.PlatformRSS, first.Platform)
	assert.Contains(t, first.Text, "Big release")
	assert.Equal(t, "unknown", first.Author)
	assert.Positive(t, first.Timestamp)

	// item with no guid/link gets a deterministic synthesized id
	second := mentions[1]
	assert.NotEmpty(t, second.ID)
	again, err := s.FetchMentions(context.Background(), brand)
	require.NoError(t, err)
	assert.Equal(t, second.ID, again[1].ID)
}

func TestRSS_ParsesAtom(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(atomFixture))
	}))
	defer srv.Close()

	s := NewRSS(newUnlimitedClient())
	mentions, err := s.FetchMentions(context.Background(), model.TrackedBrand{
		Name: "Acme", RSSFeeds: []string{srv.URL},
	})
	require.NoError(t, err)
	require.Len(t, mentions, 1)
	assert.Equal(t, "urn:acme:1", mentions[0].ID)
	assert.Equal(t, "coyote", mentions[0].Author)
	assert.Equal(t, "https://blog.acme.com/atom/1", mentions[0].URL)
}

func TestRSS_OneFeedFailingDoesNotAbortOthers(t *testing.T) {
	good := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(rssFixture))
	}))
	defer good.Close()
	bad := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer bad.Close()

	s := NewRSS(newUnlimitedClient())
	mentions, err := s.FetchMentions(context.Background(), model.TrackedBrand{
		Name: "Acme", RSSFeeds: []string{bad.URL, good.URL},
	})
	require.NoError(t, err)
	assert.Len(t, mentions, 2)
}

func TestRSS_DisabledWithoutFeeds(t *testing.T) {
	s := NewRSS(newUnlimitedClient())
	assert.False(t, s.Enabled(model.TrackedBrand{Name: "Acme"}))
}
