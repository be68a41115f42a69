package obs

import "testing"

func TestCanonicalPath(t *testing.T) {
	cases := map[string]string{
		"":                                       "/",
		"/metrics":                               "/metrics",
		"/v1/participants":                       "/v1/participants",
		"/v1/participants/alice/registration":    "/v1/participants/:principal/registration",
		"/v1/accessors/bob":                      "/v1/accessors/:principal",
		"/v1/resources/sensor-1":                 "/v1/resources/:id",
		"/v1/resources/alice/sensor-1":           "/v1/resources/:owner/:id",
		"/v1/permissions/bob/document":           "/v1/permissions/:accessor/:category",
		"/v1/access-records/42":                  "/v1/access-records/:id",
		"/v1/access-records/stream":              "/v1/access-records/stream",
		"/v1/access-records?limit=10":            "/v1/access-records",
		"/v1/permissions/check?owner=a&accessor": "/v1/permissions/check",
	}
	for input, expected := range cases {
		if got := CanonicalPath(input); got != expected {
			t.Fatalf("CanonicalPath(%q)=%q, want %q", input, got, expected)
		}
	}
}
