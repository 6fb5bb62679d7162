package handlers

import (
	"net/http"
	"net/url"
	"testing"
)

func TestParseContentRange(t *testing.T) {
	for _, tc := range []struct {
		input string
		start int64
		end   int64
		valid bool
	}{
		{input: "0-99", start: 0, end: 99, valid: true},
		{input: "100-199", start: 100, end: 199, valid: true},
		{input: "5-5", start: 5, end: 5, valid: true},
		{input: "99-0", valid: false},
		{input: "-1-5", valid: false},
		{input: "abc-def", valid: false},
		{input: "100", valid: false},
		{input: "", valid: false},
	} {
		start, end, err := parseContentRange(tc.input)
		if tc.valid {
			if err != nil {
				t.Fatalf("%q: unexpected error: %v", tc.input, err)
			}
			if start != tc.start || end != tc.end {
				t.Fatalf("%q: got %d-%d, expected %d-%d", tc.input, start, end, tc.start, tc.end)
			}
		} else if err == nil {
			t.Fatalf("%q: expected an error", tc.input)
		}
	}
}

func TestRangeHeader(t *testing.T) {
	for _, tc := range []struct {
		offset   int64
		expected string
	}{
		{offset: 0, expected: "0-0"},
		{offset: 1, expected: "0-0"},
		{offset: 100, expected: "0-99"},
	} {
		if got := rangeHeader(tc.offset); got != tc.expected {
			t.Fatalf("offset %d: got %q, expected %q", tc.offset, got, tc.expected)
		}
	}
}

func TestPageParams(t *testing.T) {
	mkreq := func(query string) *http.Request {
		u, _ := url.Parse("/v2/_catalog?" + query)
		return &http.Request{URL: u}
	}

	limit, last, err := pageParams(mkreq("n=50&last=foo"))
	if err != nil || limit != 50 || last != "foo" {
		t.Fatalf("unexpected result: %d %q %v", limit, last, err)
	}

	limit, last, err = pageParams(mkreq(""))
	if err != nil || limit != 0 || last != "" {
		t.Fatalf("unexpected result for empty query: %d %q %v", limit, last, err)
	}

	if _, _, err := pageParams(mkreq("n=-1")); err == nil {
		t.Fatal("expected error for negative n")
	}
	if _, _, err := pageParams(mkreq("n=banana")); err == nil {
		t.Fatal("expected error for non-numeric n")
	}
}

func TestPaginationLink(t *testing.T) {
	u, _ := url.Parse("http://example.com/v2/_catalog?n=2")

	link := paginationLink(u, 2, "acme/app")
	expected := `<http://example.com/v2/_catalog?last=acme%2Fapp&n=2>; rel="next"`
	if link != expected {
		t.Fatalf("unexpected link: %q != %q", link, expected)
	}
}

func TestAcceptedMediaTypes(t *testing.T) {
	r := &http.Request{Header: http.Header{
		"Accept": []string{
			"application/vnd.docker.distribution.manifest.v2+json, application/vnd.oci.image.manifest.v1+json;q=0.9",
			"*/*",
		},
	}}

	types := acceptedMediaTypes(r)
	expected := []string{
		"application/vnd.docker.distribution.manifest.v2+json",
		"application/vnd.oci.image.manifest.v1+json",
		"*/*",
	}
	if len(types) != len(expected) {
		t.Fatalf("unexpected types: %v", types)
	}
	for i := range expected {
		if types[i] != expected[i] {
			t.Fatalf("type %d: %q != %q", i, types[i], expected[i])
		}
	}
}
