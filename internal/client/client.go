// Package client submits upload batches to a running labdrop server.
package client

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"labdrop/internal/server/database"
)

// Client talks to the public upload API.
type Client struct {
	baseURL string
	http    *http.Client
}

// New returns a client for the server at baseURL.
func New(baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: 30 * time.Minute},
	}
}

// PushRequest describes one batch. A blank Description uses each file's
// name without its extension.
type PushRequest struct {
	UploaderName string
	Grade        *int
	Password     string
	Description  string
	Version      string
	Files        []LocalFile
}

// APIError is a non-success response from the server.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("server returned %d: %s", e.Status, e.Message)
}

// Push uploads req as one batch. The body is streamed, so files are never
// held in memory.
func (c *Client) Push(ctx context.Context, req PushRequest) (*database.UploadBatch, error) {
	if len(req.Files) == 0 {
		return nil, &ArgError{Arg: "<files>", Cause: "no files provided"}
	}

	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)
	go func() {
		pw.CloseWithError(writeBatch(mw, req))
	}()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/upload-batches", pr)
	if err != nil {
		pr.Close()
		return nil, err
	}
	httpReq.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("upload failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated {
		var body struct {
			Error string `json:"error"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&body)
		if body.Error == "" {
			body.Error = http.StatusText(resp.StatusCode)
		}
		return nil, &APIError{Status: resp.StatusCode, Message: body.Error}
	}

	var out struct {
		Batch database.UploadBatch `json:"batch"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	return &out.Batch, nil
}

func writeBatch(mw *multipart.Writer, req PushRequest) error {
	fields := [][2]string{{"uploader_name", req.UploaderName}}
	if req.Grade != nil {
		fields = append(fields, [2]string{"uploader_grade", strconv.Itoa(*req.Grade)})
	}
	if req.Password != "" {
		fields = append(fields, [2]string{"upload_password", req.Password})
	}
	for _, f := range req.Files {
		description := req.Description
		if strings.TrimSpace(description) == "" {
			description = strings.TrimSuffix(f.Name, filepath.Ext(f.Name))
		}
		fields = append(fields,
			[2]string{"descriptions", description},
			[2]string{"versions", req.Version},
		)
	}
	for _, kv := range fields {
		if err := mw.WriteField(kv[0], kv[1]); err != nil {
			return err
		}
	}

	for _, f := range req.Files {
		if err := copyFile(mw, f); err != nil {
			return err
		}
	}
	return mw.Close()
}

func copyFile(mw *multipart.Writer, f LocalFile) error {
	src, err := os.Open(f.Path)
	if err != nil {
		return err
	}
	defer src.Close()

	part, err := mw.CreateFormFile("files", f.Name)
	if err != nil {
		return err
	}
	_, err = io.Copy(part, src)
	return err
}
