package config

import (
	"flag"
	"os"
	"time"

	"github.com/dmitrijs2005/cloudstore/internal/flagx"
)

var knownFlags = []string{"-a", "-d", "-s", "-w", "-e", "-k", "-p", "-g", "-b", "-f", "-x", "-l", "-r", "-n", "-m", "-v"}

// parseFlags populates Config fields from command-line flags.
//
//	-a string   HTTP bind address (e.g. ":8080")
//	-d string   PostgreSQL DSN
//	-s string   HMAC secret for tokens and local signed links
//	-w string   public base URL used in sharing and local links
//	-e string   S3 endpoint URL
//	-k string   S3 access key
//	-p string   S3 secret
//	-g string   S3 region
//	-b string   S3 bucket
//	-f string   folder prefix for storage keys
//	-x int      presigned URL expiration, seconds
//	-l bool     store files on the local filesystem instead of S3
//	-r string   local storage root
//	-n int      backend retry count
//	-m string   host permission service URL
//	-v string   log level
func parseFlags(config *Config) error {
	args := flagx.FilterArgs(os.Args[1:], knownFlags)

	fs := flag.NewFlagSet("main", flag.ContinueOnError)

	fs.StringVar(&config.EndpointAddrHTTP, "a", config.EndpointAddrHTTP, "address and port to run server")
	fs.StringVar(&config.DatabaseDSN, "d", config.DatabaseDSN, "database DSN")
	fs.StringVar(&config.SecretKey, "s", config.SecretKey, "secret key")
	fs.StringVar(&config.PublicBaseURL, "w", config.PublicBaseURL, "public base URL")
	fs.StringVar(&config.S3EndpointURL, "e", config.S3EndpointURL, "S3 endpoint URL")
	fs.StringVar(&config.S3AccessKey, "k", config.S3AccessKey, "S3 access key")
	fs.StringVar(&config.S3Secret, "p", config.S3Secret, "S3 secret")
	fs.StringVar(&config.S3Region, "g", config.S3Region, "S3 region")
	fs.StringVar(&config.S3Bucket, "b", config.S3Bucket, "S3 bucket")
	fs.StringVar(&config.S3Folder, "f", config.S3Folder, "storage key folder prefix")
	expiration := fs.Int("x", int(config.PresignExpiration.Seconds()), "presigned URL expiration (in seconds)")
	fs.BoolVar(&config.UseLocal, "l", config.UseLocal, "use local filesystem storage")
	fs.StringVar(&config.LocalRoot, "r", config.LocalRoot, "local storage root")
	fs.IntVar(&config.BackendRetries, "n", config.BackendRetries, "backend retry count")
	fs.StringVar(&config.HostPermissionURL, "m", config.HostPermissionURL, "host permission service URL")
	fs.StringVar(&config.LogLevel, "v", config.LogLevel, "log level")

	if err := fs.Parse(args); err != nil {
		return err
	}

	config.PresignExpiration = time.Duration(*expiration) * time.Second
	return nil
}
