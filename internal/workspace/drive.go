package workspace

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"

	"google.golang.org/api/drive/v3"

	"github.com/starford/tiwaz/internal/models"
	"github.com/starford/tiwaz/internal/urlctx"
)

const maxDownloadBytes = 10 << 20

// Drive searches and reads Google Drive files, shared drives included.
type Drive struct {
	google
}

// NewDrive creates a Drive adapter.
func NewDrive(client HTTPClientFunc) *Drive {
	return &Drive{google{client: client}}
}

func (d *Drive) Domain() models.Domain { return models.DomainDocuments }
func (d *Drive) Kind() string          { return "Google Drive File" }
func (d *Drive) NeedsCredential() bool { return true }

func (d *Drive) service(ctx context.Context, cred *models.Credential) (*drive.Service, error) {
	opts, err := d.options(ctx, cred)
	if err != nil {
		return nil, err
	}
	return drive.NewService(ctx, opts...)
}

// Search runs a full-text query, or lists recently modified files.
func (d *Drive) Search(ctx context.Context, cred *models.Credential, query string, limit int) ([]Item, error) {
	svc, err := d.service(ctx, cred)
	if err != nil {
		return nil, err
	}
	call := svc.Files.List().
		PageSize(int64(limit)).
		Fields("files(id, name, webViewLink, mimeType)").
		Corpora("allDrives").
		IncludeItemsFromAllDrives(true).
		SupportsAllDrives(true).
		Context(ctx)
	if query != "" {
		call = call.Q(fmt.Sprintf("fullText contains '%s'", escapeDriveQuery(query)))
	} else {
		call = call.OrderBy("modifiedTime desc")
	}
	res, err := call.Do()
	if err != nil {
		return nil, fmt.Errorf("workspace: drive list: %w", err)
	}
	items := make([]Item, 0, len(res.Files))
	for _, f := range res.Files {
		items = append(items, Item{ID: f.Id, Label: f.Name, Link: f.WebViewLink, Detail: f.MimeType})
	}
	return items, nil
}

// Fetch reads file metadata and, for text-bearing types, its content.
func (d *Drive) Fetch(ctx context.Context, cred *models.Credential, id string) (Document, error) {
	svc, err := d.service(ctx, cred)
	if err != nil {
		return Document{}, err
	}
	f, err := svc.Files.Get(id).
		Fields("id, name, webViewLink, modifiedTime, owners, mimeType").
		SupportsAllDrives(true).
		Context(ctx).
		Do()
	if err != nil {
		return Document{}, fmt.Errorf("workspace: drive get %s: %w", id, err)
	}
	doc := Document{
		Kind:  d.Kind(),
		Title: f.Name,
		Link:  f.WebViewLink,
		Meta: []Meta{
			{"Modified", f.ModifiedTime},
			{"Owner", driveOwners(f.Owners)},
		},
	}

	var resp *http.Response
	switch {
	case strings.Contains(f.MimeType, "google-apps.document"):
		resp, err = svc.Files.Export(id, "text/plain").Context(ctx).Download()
	case strings.Contains(f.MimeType, "google-apps.spreadsheet"):
		resp, err = svc.Files.Export(id, "text/csv").Context(ctx).Download()
	case strings.HasPrefix(f.MimeType, "text/"), f.MimeType == "application/pdf":
		resp, err = svc.Files.Get(id).SupportsAllDrives(true).Context(ctx).Download()
	default:
		doc.Content = "(Content preview is not available for this file type.)"
		return doc, nil
	}
	if err != nil {
		return Document{}, fmt.Errorf("workspace: drive download %s: %w", id, err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxDownloadBytes))
	if err != nil {
		return Document{}, fmt.Errorf("workspace: drive read %s: %w", id, err)
	}
	if f.MimeType == "application/pdf" {
		text, err := urlctx.PDFText(data)
		if err != nil {
			doc.Content = "(Content preview is not available for this file type.)"
			return doc, nil
		}
		doc.Content = text
		return doc, nil
	}
	doc.Content = string(data)
	return doc, nil
}

func driveOwners(owners []*drive.User) string {
	names := make([]string, 0, len(owners))
	for _, o := range owners {
		if o == nil {
			continue
		}
		if o.DisplayName != "" {
			names = append(names, o.DisplayName)
		} else if o.EmailAddress != "" {
			names = append(names, o.EmailAddress)
		}
	}
	return strings.Join(names, ", ")
}

var driveQueryEscaper = strings.NewReplacer(`\`, `\\`, `'`, `\'`)

func escapeDriveQuery(s string) string {
	return driveQueryEscaper.Replace(s)
}
