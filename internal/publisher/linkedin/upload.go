package linkedin

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"

	"uk.co.dudmesh.herald/internal/model"
	"uk.co.dudmesh.herald/internal/publisher"
)

// uploadImage registers an image asset, uploads its bytes and returns the asset URN.
func (p *Publisher) uploadImage(ctx context.Context, owner string, data []byte, contentType string) (string, error) {
	register := registerUploadRequest{}
	register.RegisterUploadRequest.Recipes = []string{feedshareImage}
	register.RegisterUploadRequest.Owner = owner
	register.RegisterUploadRequest.ServiceRelationships = []serviceRelationship{{
		RelationshipType: "OWNER",
		Identifier:       "urn:li:userGeneratedContent",
	}}

	registered := registerUploadResponse{}
	if _, err := p.call(ctx, http.MethodPost, "/assets?action=registerUpload", register, &registered); err != nil {
		return "", fmt.Errorf("registering upload: %w", err)
	}

	uploadURL := registered.Value.UploadMechanism.HTTPRequest.UploadURL
	if uploadURL == "" || registered.Value.Asset == "" {
		return "", model.Transientf("registering upload: response carried no upload url or asset")
	}

	if _, err := p.put(ctx, uploadURL, data, contentType); err != nil {
		return "", fmt.Errorf("uploading image: %w", err)
	}
	return registered.Value.Asset, nil
}

// uploadVideo runs the initialize, part upload and finalize sequence and
// returns the video URN.
func (p *Publisher) uploadVideo(ctx context.Context, owner string, data []byte) (string, error) {
	initialize := initializeUploadRequest{}
	initialize.InitializeUploadRequest.Owner = owner
	initialize.InitializeUploadRequest.FileSizeBytes = int64(len(data))

	initialized := initializeUploadResponse{}
	if _, err := p.call(ctx, http.MethodPost, "/videos?action=initializeUpload", initialize, &initialized); err != nil {
		return "", fmt.Errorf("initializing video upload: %w", err)
	}
	if initialized.Value.Video == "" || len(initialized.Value.UploadInstructions) == 0 {
		return "", model.Transientf("initializing video upload: response carried no video or upload instructions")
	}

	size := int64(len(data))
	etags := make([]string, 0, len(initialized.Value.UploadInstructions))
	for i, part := range initialized.Value.UploadInstructions {
		if part.FirstByte < 0 || part.LastByte < part.FirstByte || part.LastByte >= size {
			return "", model.Transientf("video part %d: byte range %d-%d outside %d bytes", i+1, part.FirstByte, part.LastByte, size)
		}
		etag, err := p.put(ctx, part.UploadURL, data[part.FirstByte:part.LastByte+1], "application/octet-stream")
		if err != nil {
			return "", fmt.Errorf("uploading video part %d: %w", i+1, err)
		}
		etags = append(etags, etag)
	}

	finalize := finalizeUploadRequest{}
	finalize.FinalizeUploadRequest.Video = initialized.Value.Video
	finalize.FinalizeUploadRequest.UploadToken = initialized.Value.UploadToken
	finalize.FinalizeUploadRequest.UploadedPartIDs = etags
	if _, err := p.call(ctx, http.MethodPost, "/videos?action=finalizeUpload", finalize, nil); err != nil {
		return "", fmt.Errorf("finalizing video upload: %w", err)
	}

	return initialized.Value.Video, nil
}

// put uploads raw bytes to a pre-signed upload URL and returns the ETag.
func (p *Publisher) put(ctx context.Context, uploadURL string, data []byte, contentType string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, uploadURL, bytes.NewReader(data))
	if err != nil {
		return "", model.Transientf("building upload request: %v", err)
	}
	req.Header.Set("Authorization", "Bearer "+p.token)
	req.Header.Set("Content-Type", contentType)

	res, err := p.client.Do(req)
	if err != nil {
		return "", publisher.ClassifyTransport("uploading", err)
	}
	defer res.Body.Close()

	raw, _ := io.ReadAll(res.Body)
	if err := publisher.ClassifyStatus(res.StatusCode, string(raw)); err != nil {
		return "", err
	}
	return res.Header.Get("ETag"), nil
}
