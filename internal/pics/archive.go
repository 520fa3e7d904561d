package pics

import (
	"archive/tar"
	"compress/gzip"
	"context"
	"crypto/md5"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/acm19/pixcanon/internal/logger"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
)

// S3Client is the subset of the S3 API the archiver uses.
type S3Client interface {
	HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// Archiver uploads originals to S3 before they are replaced.
type Archiver interface {
	// ArchiveUnit archives every candidate file directly inside dir.
	ArchiveUnit(ctx context.Context, dir, bucket string) error
	// ArchiveFiles archives the given files of dir.
	ArchiveFiles(ctx context.Context, dir string, files []string, bucket string) error
	// ArchiveUnits archives several units in parallel.
	ArchiveUnits(ctx context.Context, dirs []string, bucket string, maxConcurrent int) error
}

// s3Archiver implements the Archiver interface
type s3Archiver struct {
	client S3Client
}

// NewS3Archiver creates an Archiver using the default AWS configuration chain.
func NewS3Archiver(ctx context.Context) (Archiver, error) {
	cfg, err := config.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}
	return &s3Archiver{client: s3.NewFromConfig(cfg)}, nil
}

// NewS3ArchiverWithClient creates an Archiver on top of an existing client.
func NewS3ArchiverWithClient(client S3Client) Archiver {
	return &s3Archiver{client: client}
}

// ArchiveUnits archives all units with a bounded worker pool.
func (a *s3Archiver) ArchiveUnits(ctx context.Context, dirs []string, bucket string, maxConcurrent int) error {
	if len(dirs) == 0 {
		logger.Info("No directories found to archive")
		return nil
	}
	maxConcurrent = max(1, min(maxConcurrent, len(dirs)))
	logger.Info("Starting S3 archive", "directories", len(dirs), "bucket", bucket, "concurrency", maxConcurrent)

	jobs := make(chan string, len(dirs))
	results := make(chan error, len(dirs))
	var wg sync.WaitGroup

	for i := range maxConcurrent {
		wg.Add(1)
		go a.archiveWorker(ctx, i, bucket, jobs, results, &wg)
	}
	for _, dir := range dirs {
		jobs <- dir
	}
	close(jobs)

	wg.Wait()
	close(results)

	var errs []error
	successCount := 0
	for err := range results {
		if err != nil {
			errs = append(errs, err)
		} else {
			successCount++
		}
	}
	if len(errs) > 0 {
		logger.Error("Archive completed with errors", "successful", successCount, "failed", len(errs))
		return fmt.Errorf("archive failed for %d directories: %w", len(errs), errors.Join(errs...))
	}
	logger.Info("Archive completed successfully", "directories_archived", successCount)
	return nil
}

func (a *s3Archiver) archiveWorker(ctx context.Context, workerID int, bucket string, jobs <-chan string, results chan<- error, wg *sync.WaitGroup) {
	defer wg.Done()
	for dir := range jobs {
		logger.Debug("Worker archiving directory", "worker", workerID, "directory", dir)
		if err := a.ArchiveUnit(ctx, dir, bucket); err != nil {
			logger.Error("Failed to archive directory", "directory", dir, "error", err)
			results <- fmt.Errorf("directory %s: %w", dir, err)
		} else {
			results <- nil
		}
	}
}

func (a *s3Archiver) ArchiveUnit(ctx context.Context, dir, bucket string) error {
	files, err := listCandidates(dir)
	if err != nil {
		return err
	}
	return a.ArchiveFiles(ctx, dir, files, bucket)
}

// ArchiveFiles packs files into a tar.gz named after the unit and uploads it
// unless an object with the same key and MD5 is already present. An object
// with the same key but different content is an error.
func (a *s3Archiver) ArchiveFiles(ctx context.Context, dir string, files []string, bucket string) error {
	if len(files) == 0 {
		logger.Debug("Nothing to archive", "directory", dir)
		return nil
	}

	tmpDir, err := os.MkdirTemp("", "pixcanon-archive-*")
	if err != nil {
		return fmt.Errorf("failed to create temp directory: %w", err)
	}
	defer func() {
		logger.Debug("Cleaning up temporary directory", "path", tmpDir)
		if err := os.RemoveAll(tmpDir); err != nil {
			logger.Error("Failed to remove temporary directory", "path", tmpDir, "error", err)
		}
	}()

	archivePath := filepath.Join(tmpDir, "unit.tar.gz")
	if err := createTarGz(archivePath, files); err != nil {
		return fmt.Errorf("failed to create tar.gz: %w", err)
	}
	localHash, err := calculateMD5(archivePath)
	if err != nil {
		return fmt.Errorf("failed to calculate MD5: %w", err)
	}
	key := archiveKey(dir, len(files), localHash)

	headOutput, err := a.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err == nil {
		remoteETag := strings.Trim(aws.ToString(headOutput.ETag), "\"")
		if remoteETag == localHash {
			logger.Info("Archive already exists in S3 with matching hash, skipping", "directory", dir, "key", key, "hash", localHash)
			return nil
		}
		return fmt.Errorf("hash mismatch for '%s': S3 object exists with different content (local: %s, remote: %s). Manual intervention required", key, localHash, remoteETag)
	} else if !isNotFoundError(err) {
		return fmt.Errorf("failed to check S3 object existence: %w", err)
	}

	logger.Info("Uploading originals to S3", "directory", dir, "files", len(files), "bucket", bucket, "key", key)
	if err := uploadFile(ctx, a.client, archivePath, bucket, key); err != nil {
		return fmt.Errorf("failed to upload to S3: %w", err)
	}
	return nil
}

// archiveKey names the archive after the unit directory, its file count and
// a prefix of the archive's MD5.
func archiveKey(dir string, count int, hash string) string {
	name := filepath.Base(filepath.Clean(dir))
	return fmt.Sprintf("%s (%d originals, %s).tar.gz", name, count, hash[:8])
}

func calculateMD5(filePath string) (string, error) {
	file, err := os.Open(filePath)
	if err != nil {
		return "", err
	}
	defer file.Close()

	hash := md5.New()
	if _, err := io.Copy(hash, file); err != nil {
		return "", err
	}
	return hex.EncodeToString(hash.Sum(nil)), nil
}

// isNotFoundError checks if the error is a NotFound error
func isNotFoundError(err error) bool {
	if err == nil {
		return false
	}

	var notFound *types.NotFound
	if errors.As(err, &notFound) {
		return true
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		if apiErr.ErrorCode() == "NotFound" {
			return true
		}
	}

	errMsg := err.Error()
	return strings.Contains(errMsg, "NotFound") || strings.Contains(errMsg, "StatusCode: 404")
}

// createTarGz writes files, flattened to their base names, into a tar.gz.
func createTarGz(targetFile string, files []string) error {
	file, err := os.Create(targetFile)
	if err != nil {
		return err
	}
	defer file.Close()

	gzWriter := gzip.NewWriter(file)
	tarWriter := tar.NewWriter(gzWriter)

	for _, p := range files {
		if err := addToTar(tarWriter, p); err != nil {
			return fmt.Errorf("%s: %w", filepath.Base(p), err)
		}
	}
	if err := tarWriter.Close(); err != nil {
		return err
	}
	if err := gzWriter.Close(); err != nil {
		return err
	}
	return file.Close()
}

func addToTar(tw *tar.Writer, filePath string) error {
	info, err := os.Stat(filePath)
	if err != nil {
		return err
	}
	header, err := tar.FileInfoHeader(info, "")
	if err != nil {
		return err
	}
	header.Name = filepath.Base(filePath)
	if err := tw.WriteHeader(header); err != nil {
		return err
	}

	f, err := os.Open(filePath)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = io.Copy(tw, f)
	return err
}

func uploadFile(ctx context.Context, client S3Client, filePath, bucket, key string) error {
	file, err := os.Open(filePath)
	if err != nil {
		return err
	}
	defer file.Close()

	_, err = client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
		Body:   file,
	})
	return err
}
