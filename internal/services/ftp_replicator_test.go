package services

import (
	"testing"

	"github.com/opsched/backend/internal/config"
	"github.com/stretchr/testify/assert"
)

func TestNewFTPReplicatorDisabledByDefault(t *testing.T) {
	assert.Nil(t, NewFTPReplicator(&config.Config{}))
	assert.Nil(t, NewFTPReplicator(&config.Config{FTPHost: "ftp.example.com"}))
	assert.Nil(t, NewFTPReplicator(&config.Config{FTPMirrorEnabled: true}))
}

func TestNewFTPReplicatorEnabled(t *testing.T) {
	r := NewFTPReplicator(&config.Config{
		FTPMirrorEnabled: true,
		FTPHost:          "ftp.example.com",
		FTPPort:          21,
		FTPUsername:      "backup",
		FTPPassword:      "secret",
		FTPPath:          "/backups",
	})
	assert.NotNil(t, r)
}
