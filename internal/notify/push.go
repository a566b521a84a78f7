package notify

import (
	"bytes"
	"encoding/json"
	"net/http"
	"time"
)

// FCMPusher posts JSON to an FCM HTTPv1 endpoint using a server key or oauth
// token. Used as a best-effort secondary channel for riders without a live
// socket; delivery is never confirmed.
type FCMPusher struct {
	Endpoint string
	Key      string
	Client   *http.Client
}

func NewFCMPusher(endpoint, key string) *FCMPusher {
	return &FCMPusher{Endpoint: endpoint, Key: key, Client: &http.Client{Timeout: 3 * time.Second}}
}

func (f *FCMPusher) Push(riderID string, env Envelope) error {
	body := map[string]interface{}{"message": map[string]interface{}{
		"token": riderID,
		"data":  env,
	}}
	b, _ := json.Marshal(body)
	req, err := http.NewRequest("POST", f.Endpoint, bytes.NewReader(b))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if f.Key != "" {
		req.Header.Set("Authorization", "Bearer "+f.Key)
	}
	resp, err := f.Client.Do(req)
	if err != nil {
		return err
	}
	resp.Body.Close()
	return nil
}
