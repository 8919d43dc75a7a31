package util

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHostClassification(t *testing.T) {
	cases := []struct {
		host     string
		internal bool
		loopback bool
	}{
		{"relay.damus.io", false, false},
		{"localhost", false, true},
		{"127.0.0.2", false, true},
		{"[::1]", false, true},
		{"printer.local", true, false},
		{"abc.onion", true, false},
		{"svc.INTERNAL", true, false},
	}
	for _, tc := range cases {
		t.Run(tc.host, func(t *testing.T) {
			assert.Equal(t, tc.internal, IsInternalHost(tc.host))
			assert.Equal(t, tc.loopback, IsLoopbackHost(tc.host))
		})
	}
}

func TestMapKeysSortsStrings(t *testing.T) {
	assert.Equal(t, []string{"a", "b", "c"}, MapKeys(map[string]bool{"c": true, "a": false, "b": true}))
	assert.Empty(t, MapKeys(map[string]int{}))
}

func TestSortedCopy(t *testing.T) {
	in := []string{"b", "a"}
	assert.Equal(t, []string{"a", "b"}, SortedCopy(in))
	assert.Equal(t, []string{"b", "a"}, in)
	assert.Nil(t, SortedCopy(nil))
}

func TestRespondError(t *testing.T) {
	rec := httptest.NewRecorder()
	RespondBadRequest(rec, "bad selector")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.JSONEq(t, `{"error":"bad selector"}`, rec.Body.String())
}
