package uploader

import (
	"github.com/bitrise-io/go-utils/v2/log"

	"github.com/bitrise-io/go-scanupload/config"
	"github.com/bitrise-io/go-scanupload/flavor"
	"github.com/bitrise-io/go-scanupload/resumable"
	"github.com/bitrise-io/go-scanupload/transport"
	"github.com/bitrise-io/go-scanupload/validation"
)

// Factory creates uploaders sharing one resolved configuration.
type Factory struct {
	config config.Config
	logger log.Logger
	// client sends requests to pre-signed URLs, authorized carries the API token.
	client     transport.Doer
	authorized transport.Doer
}

// NewFactory validates cfg and creates the HTTP clients of the uploaders.
func NewFactory(cfg config.Config, logger log.Logger) (*Factory, error) {
	if err := config.Validate(cfg); err != nil {
		return nil, err
	}

	client := transport.NewClient(logger, cfg.TransportOptions())
	return &Factory{
		config:     cfg,
		logger:     logger,
		client:     client,
		authorized: transport.WithBearerToken(client, string(cfg.APIToken)),
	}, nil
}

// Config ...
func (f *Factory) Config() config.Config {
	return f.config
}

// NewBinary creates the uploader of binary scans. The prefix is resolved against the configured URL.
func (f *Factory) NewBinary(urlPrefix string, data flavor.BinaryScanData) *Uploader {
	return f.newBlackDuck(flavor.NewBinary(f.config.URL, flavor.NewRequestPaths(urlPrefix), data))
}

// NewContainer ...
func (f *Factory) NewContainer(urlPrefix string) *Uploader {
	return f.newBlackDuck(flavor.NewBlackDuck(flavor.Container, f.config.URL, flavor.NewRequestPaths(urlPrefix)))
}

// NewBDBA ...
func (f *Factory) NewBDBA(urlPrefix string) *Uploader {
	return f.newBlackDuck(flavor.NewBlackDuck(flavor.BDBA, f.config.URL, flavor.NewRequestPaths(urlPrefix)))
}

// NewTools creates the uploader of tool artifacts. Files below the multipart threshold
// fail with flavor.ErrSingleUploadNotSupported.
func (f *Factory) NewTools(urlPrefix string) *Uploader {
	return f.newBlackDuck(flavor.NewBlackDuck(flavor.Tools, f.config.URL, flavor.NewRequestPaths(urlPrefix)))
}

// NewXMLAPI creates the uploader of a cloud storage XML API session described by urls.
// Every file is uploaded in parts.
func (f *Factory) NewXMLAPI(urls *flavor.XMLAPI) *Uploader {
	return New(f.client, urls, f.newValidator(), f.config.ChunkSize, f.config.EngineConfig(), f.logger)
}

// NewResumable creates the client of signed resumable upload URLs.
func (f *Factory) NewResumable() *resumable.Client {
	return resumable.New(f.client, f.newValidator(), f.config.ChunkSize, f.config.RetryPolicy(), f.logger)
}

func (f *Factory) newBlackDuck(target *flavor.BlackDuck) *Uploader {
	return New(f.authorized, target, f.newValidator(), f.config.ChunkSize, f.config.EngineConfig(), f.logger)
}

func (f *Factory) newValidator() *validation.Validator {
	return validation.New(f.config.MultipartThreshold, f.logger)
}
