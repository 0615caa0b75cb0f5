// internal/storage/minio_store.go
package storage

import (
	"context"
	"fmt"
	"io/fs"
	"log"
	"mime"
	"net/url"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

type Config struct {
	Endpoint      string
	AccessKey     string
	SecretKey     string
	Bucket        string
	UseSSL        bool
	PublicBaseURL string
}

// Enabled: sem credenciais o offload fica desligado.
func (c Config) Enabled() bool {
	return c.AccessKey != "" && c.SecretKey != ""
}

// MinioStore envia pastas de data do arquivo para um bucket S3/MinIO antes da
// retenção apagá-las. Chave: <camera>/<data>/<arquivo>.
type MinioStore struct {
	client  *minio.Client
	bucket  string
	baseURL *url.URL
	useSSL  bool
}

func NewMinioStore(cfg Config) (*MinioStore, error) {
	if !cfg.Enabled() {
		return nil, fmt.Errorf("MINIO_ACCESS_KEY / MINIO_SECRET_KEY não configurados")
	}
	if cfg.Endpoint == "" {
		cfg.Endpoint = "localhost:9000"
	}
	if cfg.Bucket == "" {
		cfg.Bucket = "cam-archive"
	}

	cli, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("erro criando cliente MinIO: %w", err)
	}

	var u *url.URL
	if cfg.PublicBaseURL != "" {
		u, err = url.Parse(cfg.PublicBaseURL)
		if err != nil {
			return nil, fmt.Errorf("MINIO_PUBLIC_BASE_URL inválida: %w", err)
		}
	}

	return &MinioStore{
		client:  cli,
		bucket:  cfg.Bucket,
		baseURL: u,
		useSSL:  cfg.UseSSL,
	}, nil
}

// EnsureBucket cria o bucket se não existir.
func (s *MinioStore) EnsureBucket(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	err := s.client.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{})
	if err != nil {
		exists, errBucketExists := s.client.BucketExists(ctx, s.bucket)
		if errBucketExists != nil || !exists {
			return fmt.Errorf("erro criando/verificando bucket %s: %w", s.bucket, err)
		}
	}
	log.Printf("[minio] conectado ao endpoint %s, bucket=%s", s.client.EndpointURL().Host, s.bucket)
	return nil
}

// Offload sobe cada arquivo regular de dir. Para no primeiro erro; o chamador
// decide se apaga a pasta mesmo assim.
func (s *MinioStore) Offload(ctx context.Context, cameraID, date, dir string) error {
	var uploaded int
	err := filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.Type().IsRegular() {
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		rel, err := filepath.Rel(dir, p)
		if err != nil {
			return err
		}
		key := ObjectKey(cameraID, date, rel)
		_, err = s.client.FPutObject(ctx, s.bucket, key, p, minio.PutObjectOptions{
			ContentType: contentTypeFor(p),
		})
		if err != nil {
			return fmt.Errorf("erro ao enviar %s pro MinIO: %w", key, err)
		}
		uploaded++
		return nil
	})
	if err != nil {
		return err
	}

	log.Printf("[minio] %d arquivos de %s/%s enviados -> %s", uploaded, cameraID, date, s.ObjectURL(ObjectKey(cameraID, date, "")))
	return nil
}

// ObjectKey monta <camera>/<data>/<caminho relativo> com barras normais.
func ObjectKey(cameraID, date, rel string) string {
	return strings.TrimSuffix(path.Join(cameraID, date, filepath.ToSlash(rel)), "/")
}

// ObjectURL usa a URL pública se configurada; senão a URL bruta do endpoint.
func (s *MinioStore) ObjectURL(key string) string {
	if s.baseURL != nil {
		u := *s.baseURL
		if u.Path == "" || u.Path == "/" {
			u.Path = "/" + key
		} else {
			u.Path = fmt.Sprintf("%s/%s", strings.TrimSuffix(u.Path, "/"), key)
		}
		return u.String()
	}

	scheme := "http"
	if s.useSSL {
		scheme = "https"
	}
	return fmt.Sprintf("%s://%s/%s/%s", scheme, s.client.EndpointURL().Host, s.bucket, key)
}

func contentTypeFor(p string) string {
	if ct := mime.TypeByExtension(filepath.Ext(p)); ct != "" {
		return ct
	}
	return "application/octet-stream"
}
