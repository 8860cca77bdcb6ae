// Command vault is a small client for the docvault HTTP API.
//
// Usage:
//
//	vault register <id-number> <name>
//	vault login <id-number>
//	vault upload <file.pdf>
//	vault list
//	vault token <document-id>
//	vault download <download-token> <out.pdf>
//
// The server address comes from DOCVAULT_SERVER (default
// http://localhost:8080). upload, list and token read the session
// token from DOCVAULT_TOKEN, as printed by register/login.
package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"os"
	"path/filepath"
)

func main() {
	if len(os.Args) < 2 {
		usage()
	}

	c := &client{
		base:    getenv("DOCVAULT_SERVER", "http://localhost:8080"),
		session: os.Getenv("DOCVAULT_TOKEN"),
	}

	var err error
	switch cmd, args := os.Args[1], os.Args[2:]; cmd {
	case "register":
		if len(args) != 2 {
			usage()
		}
		err = c.register(args[0], args[1])
	case "login":
		if len(args) != 1 {
			usage()
		}
		err = c.login(args[0])
	case "upload":
		if len(args) != 1 {
			usage()
		}
		err = c.upload(args[0])
	case "list":
		err = c.list()
	case "token":
		if len(args) != 1 {
			usage()
		}
		err = c.token(args[0])
	case "download":
		if len(args) != 2 {
			usage()
		}
		err = c.download(args[0], args[1])
	default:
		usage()
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage: vault register|login|upload|list|token|download ...")
	os.Exit(2)
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

type client struct {
	base    string
	session string
}

type sessionOut struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
}

func (c *client) register(idNumber, name string) error {
	body, _ := json.Marshal(map[string]string{"id_number": idNumber, "name": name})
	req, err := http.NewRequest(http.MethodPost, c.base+"/api/register", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	var out sessionOut
	if err := c.do(req, http.StatusCreated, &out); err != nil {
		return err
	}
	fmt.Println(out.AccessToken)
	return nil
}

func (c *client) login(idNumber string) error {
	form := url.Values{"username": {idNumber}}
	req, err := http.NewRequest(http.MethodPost, c.base+"/api/login", bytes.NewReader([]byte(form.Encode())))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	var out sessionOut
	if err := c.do(req, http.StatusOK, &out); err != nil {
		return err
	}
	fmt.Println(out.AccessToken)
	return nil
}

func (c *client) upload(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	hdr := make(textproto.MIMEHeader)
	hdr.Set("Content-Disposition",
		fmt.Sprintf(`form-data; name="file"; filename=%q`, filepath.Base(path)))
	hdr.Set("Content-Type", "application/pdf")
	part, err := w.CreatePart(hdr)
	if err != nil {
		return err
	}
	if _, err := part.Write(data); err != nil {
		return err
	}
	if err := w.Close(); err != nil {
		return err
	}

	req, err := http.NewRequest(http.MethodPost, c.base+"/api/documents", &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", w.FormDataContentType())

	var out map[string]any
	if err := c.do(req, http.StatusCreated, &out); err != nil {
		return err
	}
	fmt.Printf("uploaded %s as document %s\n", filepath.Base(path), out["id"])
	return nil
}

func (c *client) list() error {
	req, err := http.NewRequest(http.MethodGet, c.base+"/api/documents", nil)
	if err != nil {
		return err
	}

	var docs []struct {
		ID         string `json:"id"`
		Filename   string `json:"filename"`
		UploadedAt string `json:"uploaded_at"`
	}
	if err := c.do(req, http.StatusOK, &docs); err != nil {
		return err
	}
	for _, d := range docs {
		fmt.Printf("%s  %s  %s\n", d.ID, d.UploadedAt, d.Filename)
	}
	return nil
}

func (c *client) token(documentID string) error {
	req, err := http.NewRequest(http.MethodPost, c.base+"/api/documents/"+documentID+"/token", nil)
	if err != nil {
		return err
	}

	var out struct {
		Token     string `json:"token"`
		ExpiresIn int    `json:"expires_in"`
	}
	if err := c.do(req, http.StatusOK, &out); err != nil {
		return err
	}
	fmt.Printf("%s\n(expires in %ds)\n", out.Token, out.ExpiresIn)
	return nil
}

func (c *client) download(downloadToken, outPath string) error {
	req, err := http.NewRequest(http.MethodGet,
		c.base+"/api/download?token="+url.QueryEscape(downloadToken), nil)
	if err != nil {
		return err
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return apiError(resp)
	}

	f, err := os.Create(outPath)
	if err != nil {
		return err
	}
	defer f.Close()
	if _, err := io.Copy(f, resp.Body); err != nil {
		return err
	}
	fmt.Printf("saved %s\n", outPath)
	return nil
}

// do sends the request with the session token attached and decodes a
// JSON response into out.
func (c *client) do(req *http.Request, wantStatus int, out any) error {
	if c.session != "" {
		req.Header.Set("Authorization", "Bearer "+c.session)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != wantStatus {
		return apiError(resp)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func apiError(resp *http.Response) error {
	var body struct {
		Error string `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err == nil && body.Error != "" {
		return fmt.Errorf("server returned %d: %s", resp.StatusCode, body.Error)
	}
	return fmt.Errorf("server returned %d", resp.StatusCode)
}
