package filesys

import (
	"context"
	"io"
	"net/url"
	"os"
	"path"
	"strings"

	"github.com/flarco/g"
	"github.com/pkg/sftp"
	"github.com/samber/lo"
	"github.com/slingdata-io/sling-csv/core/dbio/iop"
	"github.com/spf13/cast"
	"golang.org/x/crypto/ssh"
)

// SftpFileSysClient is for SFTP / SSH file ops.
// Paths are absolute on the server.
type SftpFileSysClient struct {
	BaseFileSysClient
	client    *sftp.Client
	sshClient *ssh.Client
}

// Init initializes the fs client
func (fs *SftpFileSysClient) Init(ctx context.Context) (err error) {
	if fs.GetProp("PRIVATE_KEY") == "" {
		if os.Getenv("SSH_PRIVATE_KEY") != "" {
			fs.SetProp("PRIVATE_KEY", os.Getenv("SSH_PRIVATE_KEY"))
		} else {
			defPrivKey := path.Join(g.UserHomeDir(), ".ssh", "id_rsa")
			if g.PathExists(defPrivKey) {
				g.Debug("adding default private key (%s) as auth method for SFTP", defPrivKey)
				fs.SetProp("PRIVATE_KEY", defPrivKey)
			}
		}
	}

	if fs.GetProp("URL") != "" {
		u, err := url.Parse(fs.GetProp("URL"))
		if err != nil {
			return g.Error(err, "could not parse SFTP URL")
		}

		if user := u.User.Username(); user != "" {
			fs.SetProp("USER", user)
		}
		if password, _ := u.User.Password(); password != "" {
			fs.SetProp("PASSWORD", password)
		}
		if host := u.Hostname(); host != "" {
			fs.SetProp("HOST", host)
		}
		if port := cast.ToInt(u.Port()); port != 0 {
			fs.SetProp("PORT", cast.ToString(port))
		}
	}

	if fs.GetProp("PORT") == "" {
		fs.SetProp("PORT", "22")
	}

	return fs.Connect()
}

// Connect opens the ssh connection and starts the sftp subsystem
func (fs *SftpFileSysClient) Connect() (err error) {
	authMethods := []ssh.AuthMethod{}

	if privateKey := fs.GetProp("PRIVATE_KEY"); privateKey != "" {
		// raw value or path to ssh key file
		if g.PathExists(privateKey) {
			keyBytes, err := os.ReadFile(privateKey)
			if err != nil {
				return g.Error(err, "Could not read private key: "+privateKey)
			}
			privateKey = string(keyBytes)
		}

		var signer ssh.Signer
		if passphrase := fs.GetProp("PASSPHRASE"); passphrase != "" {
			signer, err = ssh.ParsePrivateKeyWithPassphrase([]byte(privateKey), []byte(passphrase))
		} else {
			signer, err = ssh.ParsePrivateKey([]byte(privateKey))
		}
		if err != nil {
			return g.Error(err, "unable to parse private key")
		}
		authMethods = append(authMethods, ssh.PublicKeys(signer))
	}

	if password := fs.GetProp("PASSWORD"); password != "" {
		authMethods = append(authMethods, ssh.Password(password))
	}

	if len(authMethods) == 0 {
		return g.Error("need to provide password or private key")
	}

	config := &ssh.ClientConfig{
		User:            fs.GetProp("USER"),
		Auth:            authMethods,
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
	}

	sshAddr := g.F("%s:%s", fs.GetProp("HOST"), fs.GetProp("PORT"))
	fs.sshClient, err = ssh.Dial("tcp", sshAddr, config)
	if err != nil {
		return g.Error(err, "unable to connect to ssh server "+sshAddr)
	}

	fs.client, err = sftp.NewClient(fs.sshClient)
	if err != nil {
		fs.sshClient.Close()
		return g.Error(err, "unable to start SFTP client")
	}

	return nil
}

// Close closes the sftp session and the ssh connection
func (fs *SftpFileSysClient) Close() error {
	if fs.client != nil {
		fs.client.Close()
	}
	if fs.sshClient != nil {
		return fs.sshClient.Close()
	}
	return nil
}

// Prefix returns the url prefix
func (fs *SftpFileSysClient) Prefix(suffix ...string) string {
	return g.F(
		"sftp://%s@%s:%s",
		fs.GetProp("USER"),
		fs.GetProp("HOST"),
		fs.GetProp("PORT"),
	) + strings.Join(suffix, "")
}

// GetPath returns the absolute path of url
func (fs *SftpFileSysClient) GetPath(uri string) (path string, err error) {
	uri = NormalizeURI(fs, uri)

	_, host, path, err := ParseURLType(uri)
	if err != nil {
		return
	}

	if fs.GetProp("HOST") != host {
		err = g.Error("URL host differs from connection host. %s != %s", host, fs.GetProp("HOST"))
	}

	return "/" + strings.Trim(path, "/"), err
}

// sftpFile is a remote file with its size
type sftpFile struct {
	*sftp.File
	size int64
}

func (f *sftpFile) Size() int64 {
	return f.size
}

// OpenFile opens the remote file for random access
func (fs *SftpFileSysClient) OpenFile(ctx context.Context, uri string) (file iop.RandomAccessFile, err error) {
	path, err := fs.GetPath(uri)
	if err != nil {
		return nil, g.Error(err, "Error Parsing url: "+uri)
	}

	f, err := fs.client.Open(path)
	if err != nil {
		return nil, g.Error(err, "Unable to open "+path)
	}

	stat, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, g.Error(err, "Unable to stat "+path)
	} else if stat.IsDir() {
		f.Close()
		return nil, g.Error("%s is a directory", path)
	}

	return &sftpFile{File: f, size: stat.Size()}, nil
}

// Create creates or truncates the remote file, and its parent folders
func (fs *SftpFileSysClient) Create(ctx context.Context, uri string) (writer io.WriteCloser, err error) {
	filePath, err := fs.GetPath(uri)
	if err != nil {
		return nil, g.Error(err, "Error Parsing url: "+uri)
	}

	if folderPath := path.Dir(filePath); folderPath != "/" {
		if err = fs.client.MkdirAll(folderPath); err != nil {
			return nil, g.Error(err, "Unable to create directory "+folderPath)
		}
	}

	file, err := fs.client.Create(filePath)
	if err != nil {
		return nil, g.Error(err, "Unable to create "+filePath)
	}
	return file, nil
}

// List lists the file at path, the entries of a folder, or
// the files matching a glob pattern (walked recursively)
func (fs *SftpFileSysClient) List(ctx context.Context, uri string) (nodes FileNodes, err error) {
	filePath, err := fs.GetPath(uri)
	if err != nil {
		return nil, g.Error(err, "Error Parsing url: "+uri)
	}

	makeNode := func(subPath string, info os.FileInfo) FileNode {
		return FileNode{
			URI:     fs.Prefix() + subPath,
			Updated: info.ModTime().Unix(),
			Size:    cast.ToUint64(info.Size()),
			IsDir:   info.IsDir(),
		}
	}

	if !hasGlob(filePath) {
		stat, err := fs.client.Stat(filePath)
		if err != nil {
			return nodes, nil // path doesn't exist
		} else if !stat.IsDir() {
			nodes.Add(makeNode(filePath, stat))
			return nodes, nil
		}

		entries, err := fs.client.ReadDir(filePath)
		if err != nil {
			return nil, g.Error(err, "error listing path "+filePath)
		}
		for _, entry := range entries {
			nodes.Add(makeNode(strings.TrimSuffix(filePath, "/")+"/"+entry.Name(), entry))
		}
		return nodes, nil
	}

	// node paths are relative to the root
	pattern, err := makeGlob(strings.TrimPrefix(filePath, "/"))
	if err != nil {
		return nil, err
	}

	maxItems := lo.Ternary(recursiveLimit == 0, 10000, recursiveLimit)
	walker := fs.client.Walk("/" + GetDeepestParent(strings.TrimPrefix(filePath, "/")))
	for walker.Step() {
		if err := walker.Err(); err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return nodes, g.Error(err, "error walking "+walker.Path())
		} else if walker.Stat().IsDir() {
			continue
		}

		nodes.AddWhere(pattern, makeNode(walker.Path(), walker.Stat()))
		if len(nodes) >= maxItems {
			g.Warn("Limiting SFTP list results at %d items. Set SLINGCSV_RECURSIVE_LIMIT to increase.", maxItems)
			break
		}
	}

	return nodes, nil
}
