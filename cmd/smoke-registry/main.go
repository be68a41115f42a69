package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log"
	"math/rand"
	"net/http"
	"os"
	"time"
)

// End-to-end smoke check against a running grantline-api: registers an owner,
// verifies an accessor, grants and checks a permission, then records two
// accesses and asserts the audit ids are consecutive.
func main() {
	base := os.Getenv("GRANTLINE_API_URL")
	if base == "" {
		base = "http://localhost:8080"
	}
	operator := os.Getenv("GRANTLINE_OPERATOR")
	if operator == "" {
		operator = "operator"
	}

	client := &http.Client{Timeout: 5 * time.Second}
	suffix := rand.New(rand.NewSource(time.Now().UnixNano())).Int31()
	owner := fmt.Sprintf("smoke-owner-%d", suffix)
	accessor := fmt.Sprintf("smoke-accessor-%d", suffix)

	ownerToken := obtainToken(client, base, owner, []string{"participant"})
	accessorToken := obtainToken(client, base, accessor, []string{"accessor"})
	operatorToken := obtainToken(client, base, operator, []string{"operator"})

	if code, _ := call(client, http.MethodPost, base+"/v1/participants", ownerToken, nil); code != http.StatusCreated {
		log.Fatalf("register participant: status %d", code)
	}

	code, _ := call(client, http.MethodPost, base+"/v1/accessors", operatorToken, map[string]any{
		"principal":     accessor,
		"accessor_type": "service",
	})
	if code != http.StatusCreated {
		log.Fatalf("verify accessor: status %d", code)
	}

	code, _ = call(client, http.MethodPost, base+"/v1/permissions", ownerToken, map[string]any{
		"accessor": accessor,
		"category": "telemetry",
	})
	if code != http.StatusCreated {
		log.Fatalf("grant permission: status %d", code)
	}

	checkURL := fmt.Sprintf("%s/v1/permissions/check?owner=%s&accessor=%s&category=telemetry", base, owner, accessor)
	code, body := call(client, http.MethodGet, checkURL, ownerToken, nil)
	if code != http.StatusOK {
		log.Fatalf("check access: status %d", code)
	}
	if body["allowed"] != true {
		log.Fatalf("expected access allowed, got %v", body["allowed"])
	}

	var firstID, secondID float64
	for i := 0; i < 2; i++ {
		code, rec := call(client, http.MethodPost, base+"/v1/access-records", accessorToken, map[string]any{
			"owner":    owner,
			"category": "telemetry",
			"purpose":  "smoke check",
		})
		if code != http.StatusCreated {
			log.Fatalf("record access %d: status %d", i, code)
		}
		id, ok := rec["id"].(float64)
		if !ok {
			log.Fatalf("record access %d: missing id", i)
		}
		if i == 0 {
			firstID = id
		} else {
			secondID = id
		}
	}
	if secondID != firstID+1 {
		log.Fatalf("audit ids not consecutive: %v then %v", firstID, secondID)
	}

	fmt.Printf("✅ grantline smoke test passed: owner=%s accessor=%s ids=%v,%v\n", owner, accessor, firstID, secondID)
}

func obtainToken(client *http.Client, base, user string, roles []string) string {
	code, body := call(client, http.MethodPost, base+"/v1/auth/token", "", map[string]any{
		"user":  user,
		"roles": roles,
	})
	if code != http.StatusOK {
		log.Fatalf("obtain token for %s: status %d", user, code)
	}
	token, ok := body["token"].(string)
	if !ok || token == "" {
		log.Fatalf("obtain token for %s: empty token", user)
	}
	return token
}

func call(client *http.Client, method, url, token string, payload map[string]any) (int, map[string]any) {
	var reader *bytes.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			log.Fatalf("marshal payload: %v", err)
		}
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		log.Fatalf("new request: %v", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := client.Do(req)
	if err != nil {
		log.Fatalf("%s %s: %v", method, url, err)
	}
	defer resp.Body.Close()

	var body map[string]any
	_ = json.NewDecoder(resp.Body).Decode(&body)
	return resp.StatusCode, body
}
