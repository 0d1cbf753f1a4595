// Package main uploads a dashcam video and prints its job events from the WebSocket stream.
package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/gorilla/websocket"
)

type event struct {
	Type string         `json:"type"`
	Data map[string]any `json:"data"`
}

func main() {
	if len(os.Args) != 2 {
		log.Fatal("usage: ws_client <video>")
	}
	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}
	base := fmt.Sprintf("http://localhost:%s", port)
	hdr := http.Header{}
	hdr.Set("X-User-Id", "u_demo")
	hdr.Set("X-Org-Id", "o_demo")
	hdr.Set("X-Role", "admin")

	jobID := upload(base, hdr, os.Args[1])
	log.Printf("Job ID: %s", jobID)

	u := url.URL{Scheme: "ws", Host: "localhost:" + port, Path: "/api/jobs/" + jobID + "/ws"}
	c, _, err := websocket.DefaultDialer.Dial(u.String(), hdr)
	if err != nil {
		log.Fatal("dial:", err)
	}
	defer func() { _ = c.Close() }()

	for {
		_ = c.SetReadDeadline(time.Now().Add(2 * time.Minute))
		var evt event
		if err := c.ReadJSON(&evt); err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				return
			}
			log.Fatalf("read: %v", err)
		}
		job, _ := evt.Data["job"].(map[string]any)
		log.Printf("WS <- %-14s status=%v stage=%v progress=%v", evt.Type, job["status"], job["stage"], job["progress"])
	}
}

func upload(base string, hdr http.Header, path string) string {
	f, err := os.Open(path)
	if err != nil {
		log.Fatal(err)
	}
	defer func() { _ = f.Close() }()

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	fw, err := mw.CreateFormFile("video", filepath.Base(path))
	if err != nil {
		log.Fatal(err)
	}
	if _, err := io.Copy(fw, f); err != nil {
		log.Fatal(err)
	}
	_ = mw.Close()

	req, _ := http.NewRequest(http.MethodPost, base+"/api/upload-video", &body)
	req.Header = hdr.Clone()
	req.Header.Set("Content-Type", mw.FormDataContentType())
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		log.Fatal(err)
	}
	defer func() { _ = resp.Body.Close() }()
	var out struct {
		Success bool   `json:"success"`
		JobID   string `json:"jobId"`
		Error   string `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		log.Fatal(err)
	}
	if !out.Success {
		log.Fatalf("upload failed (%s): %s", resp.Status, out.Error)
	}
	return out.JobID
}
