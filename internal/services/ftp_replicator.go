package services

import (
	"fmt"
	"log"
	"os"
	"sort"
	"time"

	"github.com/jlaffaye/ftp"
	"github.com/opsched/backend/internal/config"
)

// FTPReplicator is an optional secondary offsite mirror. Dropbox remains the
// primary replica; FTP failures degrade exactly like cloud failures.
type FTPReplicator struct {
	host     string
	port     int
	username string
	password string
	path     string
}

// NewFTPReplicator returns nil when the mirror is not configured.
func NewFTPReplicator(cfg *config.Config) *FTPReplicator {
	if !cfg.FTPMirrorEnabled || cfg.FTPHost == "" {
		return nil
	}
	return &FTPReplicator{
		host:     cfg.FTPHost,
		port:     cfg.FTPPort,
		username: cfg.FTPUsername,
		password: cfg.FTPPassword,
		path:     cfg.FTPPath,
	}
}

// connect dials, logs in, and changes into the backup directory, creating it
// when needed.
func (r *FTPReplicator) connect() (*ftp.ServerConn, error) {
	addr := fmt.Sprintf("%s:%d", r.host, r.port)
	conn, err := ftp.Dial(addr, ftp.DialWithTimeout(30*time.Second))
	if err != nil {
		return nil, fmt.Errorf("FTP connection failed: %w", err)
	}

	if err := conn.Login(r.username, r.password); err != nil {
		conn.Quit()
		return nil, fmt.Errorf("FTP login failed: %w", err)
	}

	if r.path != "" && r.path != "/" {
		if err := conn.ChangeDir(r.path); err != nil {
			conn.MakeDir(r.path)
			if err := conn.ChangeDir(r.path); err != nil {
				conn.Quit()
				return nil, fmt.Errorf("FTP directory change failed: %w", err)
			}
		}
	}
	return conn, nil
}

// Upload stores a local backup file on the FTP server.
func (r *FTPReplicator) Upload(localPath, filename string) error {
	conn, err := r.connect()
	if err != nil {
		return err
	}
	defer conn.Quit()

	file, err := os.Open(localPath)
	if err != nil {
		return fmt.Errorf("failed to open local file: %w", err)
	}
	defer file.Close()

	if err := conn.Stor(filename, file); err != nil {
		return fmt.Errorf("FTP upload failed: %w", err)
	}

	log.Printf("FTP: uploaded %s to %s", filename, r.host)
	return nil
}

// EnforceRetention deletes the oldest mirrored artifacts beyond maxCount.
// Individual delete failures are logged and skipped.
func (r *FTPReplicator) EnforceRetention(maxCount int) error {
	if maxCount <= 0 {
		return nil
	}

	conn, err := r.connect()
	if err != nil {
		return err
	}
	defer conn.Quit()

	entries, err := conn.List("")
	if err != nil {
		return fmt.Errorf("FTP listing failed: %w", err)
	}

	type remoteFile struct {
		name      string
		createdAt time.Time
	}
	files := []remoteFile{}
	for _, entry := range entries {
		if entry.Type != ftp.EntryTypeFile {
			continue
		}
		ts, _, ok := parseArtifactName(entry.Name)
		if !ok {
			continue
		}
		files = append(files, remoteFile{name: entry.Name, createdAt: ts})
	}

	sort.Slice(files, func(i, j int) bool {
		return files[i].createdAt.After(files[j].createdAt)
	})

	for _, f := range files[min(maxCount, len(files)):] {
		if err := conn.Delete(f.name); err != nil {
			log.Printf("FTP: failed to delete old backup %s: %v", f.name, err)
			continue
		}
		log.Printf("FTP: deleted old backup %s", f.name)
	}
	return nil
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}
