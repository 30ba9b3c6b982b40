package auth

import (
	"errors"
	"net/url"
	"strconv"
	"testing"
	"time"
)

func TestVerifyChannel(t *testing.T) {
	t.Parallel()

	const (
		key      = "app-key"
		secret   = "app-secret"
		socketID = "123.456"
		name     = "private-room"
	)

	token := SignChannel(key, secret, socketID, name, "")
	if err := VerifyChannel(key, secret, socketID, name, "", token); err != nil {
		t.Fatalf("VerifyChannel() error: %v", err)
	}

	// Presence: channel data participates in the signature.
	data := `{"user_id":"7"}`
	token = SignChannel(key, secret, socketID, name, data)
	if err := VerifyChannel(key, secret, socketID, name, data, token); err != nil {
		t.Fatalf("VerifyChannel() with channel data error: %v", err)
	}
	if err := VerifyChannel(key, secret, socketID, name, `{"user_id":"8"}`, token); err == nil {
		t.Error("tampered channel data must fail")
	}

	if err := VerifyChannel(key, secret, socketID, name, "", "no-colon"); err == nil {
		t.Error("token without key prefix must fail")
	}
	if err := VerifyChannel(key, secret, socketID, name, "", "other-key:"+token); err == nil {
		t.Error("wrong key must fail")
	}
	if err := VerifyChannel(key, secret, "999.999", name, "", SignChannel(key, secret, socketID, name, "")); err == nil {
		t.Error("signature bound to another socket must fail")
	}
}

func TestVerifyUser(t *testing.T) {
	t.Parallel()

	const (
		key      = "app-key"
		secret   = "app-secret"
		socketID = "123.456"
	)
	userData := `{"id":"u-1","name":"Alice"}`

	token := SignUser(key, secret, socketID, userData)
	if err := VerifyUser(key, secret, socketID, userData, token); err != nil {
		t.Fatalf("VerifyUser() error: %v", err)
	}
	if err := VerifyUser(key, secret, socketID, `{"id":"u-2"}`, token); !errors.Is(err, ErrInvalidSignature) {
		t.Errorf("tampered user data error = %v, want ErrInvalidSignature", err)
	}
}

func signedQuery(key, secret, method, path string, body []byte, ts time.Time, extra url.Values) url.Values {
	query := url.Values{}
	for k, vs := range extra {
		for _, v := range vs {
			query.Add(k, v)
		}
	}
	query.Set("auth_key", key)
	query.Set("auth_timestamp", strconv.FormatInt(ts.Unix(), 10))
	query.Set("auth_version", "1.0")
	query.Set("auth_signature", SignRequest(secret, method, path, query, body))
	return query
}

func TestVerifyRequest(t *testing.T) {
	t.Parallel()

	const (
		key    = "app-key"
		secret = "app-secret"
		path   = "/apps/1/events"
	)
	body := []byte(`{"name":"event","channels":["room"],"data":"{}"}`)
	now := time.Now()

	query := signedQuery(key, secret, "POST", path, body, now, nil)
	if err := VerifyRequest(key, secret, "POST", path, query, body, now); err != nil {
		t.Fatalf("VerifyRequest() error: %v", err)
	}

	// Extra query parameters participate in the signature, sorted.
	query = signedQuery(key, secret, "GET", "/apps/1/channels", nil, now, url.Values{
		"info":             {"user_count"},
		"filter_by_prefix": {"presence-"},
	})
	if err := VerifyRequest(key, secret, "GET", "/apps/1/channels", query, nil, now); err != nil {
		t.Fatalf("VerifyRequest() with query error: %v", err)
	}
}

func TestVerifyRequestFailures(t *testing.T) {
	t.Parallel()

	const (
		key    = "app-key"
		secret = "app-secret"
		path   = "/apps/1/events"
	)
	now := time.Now()

	if err := VerifyRequest(key, secret, "POST", path, url.Values{}, nil, now); !errors.Is(err, ErrMissingAuth) {
		t.Errorf("empty query error = %v, want ErrMissingAuth", err)
	}

	query := signedQuery(key, secret, "POST", path, nil, now, nil)
	query.Set("auth_version", "2.0")
	if err := VerifyRequest(key, secret, "POST", path, query, nil, now); !errors.Is(err, ErrBadAuthVersion) {
		t.Errorf("bad version error = %v, want ErrBadAuthVersion", err)
	}

	query = signedQuery("other-key", secret, "POST", path, nil, now, nil)
	if err := VerifyRequest(key, secret, "POST", path, query, nil, now); !errors.Is(err, ErrWrongKey) {
		t.Errorf("wrong key error = %v, want ErrWrongKey", err)
	}

	// Timestamp outside the 600 s window.
	query = signedQuery(key, secret, "POST", path, nil, now.Add(-11*time.Minute), nil)
	if err := VerifyRequest(key, secret, "POST", path, query, nil, now); !errors.Is(err, ErrTimestampSkew) {
		t.Errorf("skewed timestamp error = %v, want ErrTimestampSkew", err)
	}

	// Boundary: exactly inside the window passes.
	query = signedQuery(key, secret, "POST", path, nil, now.Add(-MaxTimestampSkew), nil)
	if err := VerifyRequest(key, secret, "POST", path, query, nil, now); err != nil {
		t.Errorf("boundary timestamp error = %v, want nil", err)
	}

	// Tampered body.
	query = signedQuery(key, secret, "POST", path, []byte(`{"a":1}`), now, nil)
	if err := VerifyRequest(key, secret, "POST", path, query, []byte(`{"a":2}`), now); !errors.Is(err, ErrInvalidSignature) {
		t.Errorf("tampered body error = %v, want ErrInvalidSignature", err)
	}

	// Tampered method.
	query = signedQuery(key, secret, "POST", path, nil, now, nil)
	if err := VerifyRequest(key, secret, "DELETE", path, query, nil, now); !errors.Is(err, ErrInvalidSignature) {
		t.Errorf("wrong method error = %v, want ErrInvalidSignature", err)
	}
}
