package platform

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
)

func TestSaavnIsSong(t *testing.T) {
	c := NewSaavnClient()
	assert.True(t, c.IsSong("https://www.jiosaavn.com/song/tum-hi-ho/abc"))
	assert.True(t, c.IsSong("https://www.saavn.com/song/xyz/123"))
	assert.False(t, c.IsSong("https://www.jiosaavn.com/featured/playlist/abc"))
	assert.False(t, c.IsSong("https://example.com/song/abc"))
	assert.False(t, c.IsSong("not a url at all ://"))
}

func TestSaavnIsPlaylist(t *testing.T) {
	c := NewSaavnClient()
	assert.True(t, c.IsPlaylist("https://www.jiosaavn.com/featured/romantic/abc"))
	assert.True(t, c.IsPlaylist("https://www.jiosaavn.com/album/xyz/123"))
	assert.False(t, c.IsPlaylist("https://www.jiosaavn.com/song/abc/1"))
	assert.False(t, c.IsPlaylist("https://example.com/featured/abc"))
}

func TestBestSaavnDownload(t *testing.T) {
	downloads := gjson.Parse(`[
		{"quality":"96kbps","url":"https://cdn/96"},
		{"quality":"320kbps","url":"https://cdn/320"},
		{"quality":"160kbps","url":"https://cdn/160"}
	]`)
	assert.Equal(t, "https://cdn/320", bestSaavnDownload(downloads))

	assert.Equal(t, "", bestSaavnDownload(gjson.Parse(`[]`)))
}

func TestSaavnResolveSong(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/songs", r.URL.Path)
		w.Write([]byte(`{"data":[{
			"id":"song1",
			"name":"Tum Hi Ho",
			"duration":262,
			"image":[{"quality":"50x50","url":"https://img/small"},{"quality":"500x500","url":"https://img/big"}],
			"downloadUrl":[{"quality":"96kbps","url":"https://cdn/96"},{"quality":"320kbps","url":"https://cdn/320"}]
		}]}`))
	}))
	defer srv.Close()

	c := &SaavnClient{BaseURL: srv.URL, HTTPClient: &http.Client{Timeout: time.Second}}
	track, err := c.ResolveSong(context.Background(), "https://www.jiosaavn.com/song/tum-hi-ho/abc")
	require.NoError(t, err)

	assert.Equal(t, "song1", track.ID)
	assert.Equal(t, "Tum Hi Ho", track.Title)
	assert.Equal(t, "https://cdn/320", track.URL)
	assert.Equal(t, TrackSourceSaavn, track.Source)
	assert.Equal(t, 262*time.Second, track.Duration)
	assert.Equal(t, "https://img/big", track.Thumbnail)
}

func TestSaavnSearchNoResults(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"data":{"results":[]}}`))
	}))
	defer srv.Close()

	c := &SaavnClient{BaseURL: srv.URL, HTTPClient: &http.Client{Timeout: time.Second}}
	_, err := c.Search(context.Background(), "does not exist")
	assert.ErrorIs(t, err, ErrSaavnResolveFailed)
}

func TestSaavnPlaylistLimit(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"data":{"songs":[
			{"id":"a","name":"A","duration":100,"downloadUrl":[{"quality":"320kbps","url":"https://cdn/a"}]},
			{"id":"b","name":"B","duration":100,"downloadUrl":[{"quality":"320kbps","url":"https://cdn/b"}]},
			{"id":"c","name":"C","duration":100,"downloadUrl":[{"quality":"320kbps","url":"https://cdn/c"}]}
		]}}`))
	}))
	defer srv.Close()

	c := &SaavnClient{BaseURL: srv.URL, HTTPClient: &http.Client{Timeout: time.Second}}
	tracks, err := c.Playlist(context.Background(), "https://www.jiosaavn.com/featured/x/y", 2)
	require.NoError(t, err)
	require.Len(t, tracks, 2)
	assert.Equal(t, "a", tracks[0].ID)
	assert.Equal(t, "b", tracks[1].ID)
}

func TestSaavnAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	c := &SaavnClient{BaseURL: srv.URL, HTTPClient: &http.Client{Timeout: time.Second}}
	_, err := c.ResolveSong(context.Background(), "https://www.jiosaavn.com/song/x/y")
	assert.ErrorIs(t, err, ErrSaavnResolveFailed)
}
