package search

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const resultsPage = `<html><body>
<div class="result result--ad"><a class="result__a" href="https://ads.example">Ad</a></div>
<div class="result results_links">
  <a class="result__a" href="//duckduckgo.com/l/?uddg=https%3A%2F%2Fweather.example%2Fmoscow&rut=x">Погода в  Москве</a>
  <a class="result__snippet">Сегодня +5, дождь.</a>
</div>
<div class="result results_links">
  <a class="result__a" href="https://news.example/">Новости</a>
  <div class="result__snippet">Главное
    за день</div>
</div>
<div class="result results_links"><span>no link</span></div>
<div class="result results_links">
  <a class="result__a" href="https://third.example/">Third</a>
</div>
</body></html>`

func TestDuckDuckGo_Search(t *testing.T) {
	var gotQuery string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		gotQuery = r.PostForm.Get("q")
		_, _ = io.WriteString(w, resultsPage)
	}))
	defer srv.Close()

	d := NewDuckDuckGo(srv.URL, 2, 2*time.Second)
	results, err := d.Search(context.Background(), "  погода Москва ")
	require.NoError(t, err)

	assert.Equal(t, "погода Москва", gotQuery)
	require.Len(t, results, 2)
	assert.Equal(t, Result{
		Title:   "Погода в Москве",
		URL:     "https://weather.example/moscow",
		Snippet: "Сегодня +5, дождь.",
	}, results[0])
	assert.Equal(t, "Главное за день", results[1].Snippet)
}

func TestDuckDuckGo_NoResults(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `<html><body><div class="no-results">nothing</div></body></html>`)
	}))
	defer srv.Close()

	_, err := NewDuckDuckGo(srv.URL, 4, 2*time.Second).Search(context.Background(), "anything")
	assert.True(t, errors.Is(err, ErrNoResults))
	assert.True(t, errors.Is(err, ErrUnavailable))
}

func TestDuckDuckGo_HTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	_, err := NewDuckDuckGo(srv.URL, 4, 2*time.Second).Search(context.Background(), "anything")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrUnavailable))
	assert.True(t, strings.Contains(err.Error(), "status=403"))
}

func TestDuckDuckGo_ContextTimeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := NewDuckDuckGo(srv.URL, 4, 5*time.Second).Search(ctx, "slow")
	assert.True(t, errors.Is(err, ErrUnavailable))
}

func TestDuckDuckGo_EmptyQuery(t *testing.T) {
	_, err := NewDuckDuckGo("http://127.0.0.1:0", 4, time.Second).Search(context.Background(), " ")
	assert.True(t, errors.Is(err, ErrNoResults))
}
