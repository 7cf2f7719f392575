package remote

import (
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"

	"github.com/pkg/sftp"
)

// DownloadFile copies a remote file to a local path over SFTP. When the
// local path is a directory the remote basename is appended. Missing
// local parent directories are created.
func (m *Machine) DownloadFile(ctx context.Context, remotePath, localPath string) error {
	defer m.Close()

	client, err := m.connect()
	if err != nil {
		return err
	}

	sftpClient, err := sftp.NewClient(client)
	if err != nil {
		return fmt.Errorf("failed to open sftp client: %w", err)
	}
	defer sftpClient.Close()

	if info, err := os.Stat(localPath); err == nil && info.IsDir() {
		localPath = filepath.Join(localPath, path.Base(remotePath))
	}
	if err := os.MkdirAll(filepath.Dir(localPath), 0755); err != nil {
		return fmt.Errorf("failed to create local directory: %w", err)
	}

	src, err := sftpClient.Open(remotePath)
	if err != nil {
		return fmt.Errorf("failed to open remote file %s: %w", remotePath, err)
	}
	defer src.Close()

	dst, err := os.Create(localPath)
	if err != nil {
		return fmt.Errorf("failed to create local file %s: %w", localPath, err)
	}
	defer dst.Close()

	if _, err := io.Copy(dst, src); err != nil {
		return fmt.Errorf("failed to download %s: %w", remotePath, err)
	}
	return nil
}

// UploadFileWithDirs copies a local file to a remote path over SFTP,
// creating missing remote parents. When overwrite is false an existing
// remote file makes the call a no-op, which lets staging be replayed
// safely after a restart.
func (m *Machine) UploadFileWithDirs(ctx context.Context, localPath, remotePath string, overwrite bool) error {
	defer m.Close()

	client, err := m.connect()
	if err != nil {
		return err
	}

	sftpClient, err := sftp.NewClient(client)
	if err != nil {
		return fmt.Errorf("failed to open sftp client: %w", err)
	}
	defer sftpClient.Close()

	if !overwrite {
		if _, err := sftpClient.Stat(remotePath); err == nil {
			m.logger.Debug().Str("remote", remotePath).Msg("Remote file exists, skipping upload")
			return nil
		}
	}

	if err := sftpClient.MkdirAll(path.Dir(remotePath)); err != nil {
		return fmt.Errorf("failed to create remote directory: %w", err)
	}

	src, err := os.Open(localPath)
	if err != nil {
		return fmt.Errorf("failed to open local file %s: %w", localPath, err)
	}
	defer src.Close()

	dst, err := sftpClient.Create(remotePath)
	if err != nil {
		return fmt.Errorf("failed to create remote file %s: %w", remotePath, err)
	}
	defer dst.Close()

	if _, err := io.Copy(dst, src); err != nil {
		return fmt.Errorf("failed to upload %s: %w", localPath, err)
	}
	return nil
}
