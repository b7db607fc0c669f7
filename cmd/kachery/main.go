// Command kachery is a thin CLI front end over the kachery client library.
package main

import (
	"fmt"
	"os"

	"github.com/thought-machine/go-flags"
	"gopkg.in/op/go-logging.v1"

	"github.com/rly/kachery"
	"github.com/rly/kachery/config"
	"github.com/rly/kachery/digest"
)

var log = logging.MustGetLogger("kachery")

var opts struct {
	Verbosity  int    `short:"v" long:"verbosity" default:"3" description:"Verbosity of output (1-5, error to debug)"`
	URL        string `long:"url" env:"KACHERY_URL" description:"Remote kachery server URL"`
	Channel    string `long:"channel" env:"KACHERY_CHANNEL" description:"Remote kachery channel"`
	Password   string `long:"password" env:"KACHERY_PASSWORD" description:"Remote kachery channel password"`
	Algorithm  string `long:"algorithm" choice:"sha1" choice:"md5" default:"sha1" description:"Digest algorithm to use"`
	UseRemote  bool   `long:"use_remote" description:"Fall back to the remote server on a local cache miss"`

	Load struct {
		Args struct {
			Path string `positional-arg-name:"path" required:"true" description:"Content URL or local path to load"`
		} `positional-args:"true"`
		Dest string `long:"dest" description:"Copy the resolved file here"`
	} `command:"load" description:"Resolve a content URL or local path to a local file"`

	Store struct {
		Args struct {
			Path string `positional-arg-name:"path" required:"true" description:"Local file to store"`
		} `positional-args:"true"`
		Basename     string `long:"basename" description:"Basename recorded in the returned content URL"`
		GitAnnexMode bool   `long:"git_annex_mode" description:"Treat path as a git-annex working copy"`
	} `command:"store" description:"Digest and store a file, printing its content URL"`

	StoreDir struct {
		Args struct {
			Path string `positional-arg-name:"path" required:"true" description:"Local directory to store"`
		} `positional-args:"true"`
		Label        string `long:"label" description:"Label recorded in the returned directory URL"`
		GitAnnexMode bool   `long:"git_annex_mode" description:"Resolve git-annex symlinks while walking the directory"`
	} `command:"store-dir" description:"Recursively manifest and store a directory, printing its directory URL"`

	ReadDir struct {
		Args struct {
			Path string `positional-arg-name:"path" required:"true" description:"Directory URL or local directory to read"`
		} `positional-args:"true"`
		Recursive    bool `long:"recursive" description:"Recurse into subdirectories instead of flattening them"`
		GitAnnexMode bool `long:"git_annex_mode" description:"Resolve git-annex symlinks while walking a local directory"`
	} `command:"read-dir" description:"Print the JSON manifest of a directory"`
}

func initLogging(verbosity int) {
	backend := logging.NewLogBackend(os.Stderr, "", 0)
	formatter := logging.MustStringFormatter("%{time:15:04:05.000} %{level:.4s}: %{message}")
	formatted := logging.NewBackendFormatter(backend, formatter)
	leveled := logging.AddModuleLevel(formatted)
	leveled.SetLevel(logging.Level(verbosity), "")
	logging.SetBackend(leveled)
}

func runLoad() int {
	resolved, found, err := kachery.LoadFile(opts.Load.Args.Path, opts.Load.Dest)
	if err != nil {
		log.Errorf("load failed: %s", err)
		return 1
	}
	if !found {
		fmt.Fprintln(os.Stderr, "not found")
		return 1
	}
	fmt.Println(resolved)
	return 0
}

func runStore() int {
	url, err := kachery.StoreFile(opts.Store.Args.Path, opts.Store.Basename, opts.Store.GitAnnexMode)
	if err != nil {
		log.Errorf("store failed: %s", err)
		return 1
	}
	fmt.Println(url)
	return 0
}

func runStoreDir() int {
	url, err := kachery.StoreDir(opts.StoreDir.Args.Path, opts.StoreDir.Label, opts.StoreDir.GitAnnexMode)
	if err != nil {
		log.Errorf("store-dir failed: %s", err)
		return 1
	}
	fmt.Println(url)
	return 0
}

func runReadDir() int {
	m, found, err := kachery.ReadDir(opts.ReadDir.Args.Path, opts.ReadDir.Recursive, opts.ReadDir.GitAnnexMode)
	if err != nil {
		log.Errorf("read-dir failed: %s", err)
		return 1
	}
	if !found {
		fmt.Fprintln(os.Stderr, "not found")
		return 1
	}
	b, err := m.Marshal()
	if err != nil {
		log.Errorf("encoding manifest: %s", err)
		return 1
	}
	fmt.Println(string(b))
	return 0
}

var commands = map[string]func() int{
	"load":      runLoad,
	"store":     runStore,
	"store-dir": runStoreDir,
	"read-dir":  runReadDir,
}

func main() {
	parser := flags.NewParser(&opts, flags.Default)
	if _, err := parser.Parse(); err != nil {
		if flagsErr, ok := err.(*flags.Error); ok && flagsErr.Type == flags.ErrHelp {
			os.Exit(0)
		}
		os.Exit(1)
	}

	initLogging(opts.Verbosity)

	algorithm := digest.SHA1
	if opts.Algorithm == "md5" {
		algorithm = digest.MD5
	}
	kachery.SetConfig(config.Config{
		URL:       opts.URL,
		Channel:   opts.Channel,
		Password:  opts.Password,
		Algorithm: algorithm,
		UseRemote: opts.UseRemote || opts.URL != "",
	})

	if parser.Active == nil {
		fmt.Fprintln(os.Stderr, "expected a command")
		os.Exit(1)
	}

	run, ok := commands[parser.Active.Name]
	if !ok {
		fmt.Fprintf(os.Stderr, "unknown command %q\n", parser.Active.Name)
		os.Exit(1)
	}
	os.Exit(run())
}
