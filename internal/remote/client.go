package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"time"

	"tablesync/internal/dsl"
	"tablesync/internal/syncerr"
)

// Client — HTTP-клиент удалённого хранилища (cmd/server).
type Client struct {
	BaseURL string
	HTTP    *http.Client
}

func New(baseURL string, timeout time.Duration) *Client {
	return &Client{
		BaseURL: strings.TrimRight(baseURL, "/"),
		HTTP:    &http.Client{Timeout: timeout},
	}
}

// FieldError — ошибка поля в ответе сервера.
type FieldError struct {
	Code    string `json:"code"`
	Field   string `json:"field"`
	Message string `json:"message"`
}

// WriteError — сервер отклонил строку (4xx с {"errors": [...]}).
type WriteError struct {
	Status int
	Errors []FieldError
}

func (e *WriteError) Error() string {
	parts := make([]string, 0, len(e.Errors))
	for _, fe := range e.Errors {
		parts = append(parts, fe.Field+": "+fe.Code)
	}
	return fmt.Sprintf("write rejected (%d): %s", e.Status, strings.Join(parts, ", "))
}

// Descriptors раскладывает ошибки по полям (DBName) в дескрипторы KeyRemote(code, message).
func (e *WriteError) Descriptors() map[string][]syncerr.Descriptor {
	out := make(map[string][]syncerr.Descriptor, len(e.Errors))
	for _, fe := range e.Errors {
		out[fe.Field] = append(out[fe.Field], syncerr.New(syncerr.KeyRemote, fe.Code, fe.Message))
	}
	return out
}

// ErrStatus — неожиданный HTTP-статус.
var ErrStatus = errors.New("unexpected status")

func (c *Client) url(parts ...string) string {
	esc := make([]string, len(parts))
	for i, p := range parts {
		esc[i] = url.PathEscape(p)
	}
	return c.BaseURL + "/api/" + strings.Join(esc, "/")
}

func (c *Client) do(req *http.Request) (*http.Response, []byte, error) {
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return nil, nil, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 10<<20))
	if err != nil {
		return resp, nil, err
	}
	return resp, body, nil
}

func statusErr(resp *http.Response, body []byte) error {
	return fmt.Errorf("%w %d: %s", ErrStatus, resp.StatusCode, strings.TrimSpace(string(body)))
}

// FetchTable загружает схему таблицы. Неизвестная таблица — (nil, nil).
func (c *Client) FetchTable(ctx context.Context, tableID string) (*dsl.Table, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url("meta", "tables", tableID), nil)
	if err != nil {
		return nil, err
	}
	resp, body, err := c.do(req)
	if err != nil {
		return nil, err
	}
	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound:
		return nil, nil
	default:
		return nil, statusErr(resp, body)
	}
	var t dsl.Table
	if err := json.Unmarshal(body, &t); err != nil {
		return nil, fmt.Errorf("decode table %s: %w", tableID, err)
	}
	return &t, nil
}

// Upload отправляет файл multipart-запросом и возвращает ссылку на объект.
func (c *Client) Upload(ctx context.Context, fileName string, data []byte) (string, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", fileName)
	if err != nil {
		return "", err
	}
	if _, err := fw.Write(data); err != nil {
		return "", err
	}
	if err := mw.Close(); err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url("files"), &buf)
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	resp, body, err := c.do(req)
	if err != nil {
		return "", err
	}
	if resp.StatusCode != http.StatusCreated {
		return "", statusErr(resp, body)
	}
	var out struct {
		ObjectURL string `json:"object_url"`
	}
	if err := json.Unmarshal(body, &out); err != nil || out.ObjectURL == "" {
		return "", fmt.Errorf("upload %s: bad response: %s", fileName, strings.TrimSpace(string(body)))
	}
	return out.ObjectURL, nil
}

// Delete удаляет объект по ссылке, которую вернул Upload. 404 — уже удалён.
func (c *Client) Delete(ctx context.Context, ref string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, ref, nil)
	if err != nil {
		return err
	}
	resp, body, err := c.do(req)
	if err != nil {
		return err
	}
	switch resp.StatusCode {
	case http.StatusOK, http.StatusNoContent, http.StatusNotFound:
		return nil
	}
	return statusErr(resp, body)
}

// WriteRow отправляет строку (ключи — DBName) и возвращает сохранённую запись.
// Отказ по полям приходит как *WriteError.
func (c *Client) WriteRow(ctx context.Context, tableID string, row map[string]any) (map[string]any, error) {
	payload, err := json.Marshal(row)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url("tables", tableID, "rows"), bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, body, err := c.do(req)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode == http.StatusCreated || resp.StatusCode == http.StatusOK {
		var out map[string]any
		if err := json.Unmarshal(body, &out); err != nil {
			return nil, fmt.Errorf("decode row: %w", err)
		}
		return out, nil
	}

	var rejected struct {
		Errors []FieldError `json:"errors"`
	}
	if resp.StatusCode >= 400 && resp.StatusCode < 500 &&
		json.Unmarshal(body, &rejected) == nil && len(rejected.Errors) > 0 {
		return nil, &WriteError{Status: resp.StatusCode, Errors: rejected.Errors}
	}
	return nil, statusErr(resp, body)
}
