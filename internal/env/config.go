package env

import (
	"context"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/sethvargo/go-envconfig"
)

type Config struct {
	Host     string `env:"MEGAPHONE_HOST,default=::"`
	TCPPort  int    `env:"MEGAPHONE_TCP_PORT,default=6226"`
	UDPPort  int    `env:"MEGAPHONE_UDP_PORT,default=6227"`
	HTTPPort int    `env:"MEGAPHONE_HTTP_PORT,default=6225"`

	UploadDir       string        `env:"MEGAPHONE_UPLOAD_DIR,default=res/server/files"`
	NotifyInterval  time.Duration `env:"MEGAPHONE_NOTIFY_INTERVAL,default=120s"`
	TransferTimeout time.Duration `env:"MEGAPHONE_TRANSFER_TIMEOUT,default=5s"`
	MulticastGroup  string        `env:"MEGAPHONE_MULTICAST_GROUP,default=ff12::1:2:3"`
	MulticastIface  string        `env:"MEGAPHONE_MULTICAST_IFACE"`
	Workers         int           `env:"MEGAPHONE_WORKERS,default=3"`

	AccountsFile string `env:"MEGAPHONE_ACCOUNTS_FILE,default=res/client/users.data"`
	DownloadDir  string `env:"MEGAPHONE_DOWNLOAD_DIR"`

	Debug bool `env:"MEGAPHONE_DEBUG"`
}

func LoadConfig(ctx context.Context) (*Config, error) {
	config := Config{}

	if err := godotenv.Load(".env.local"); err != nil {
		if !os.IsNotExist(err) {
			return nil, err
		}
	}

	if err := envconfig.Process(ctx, &config); err != nil {
		return nil, err
	}

	return &config, nil
}
