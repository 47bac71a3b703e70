package main

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/bridgefall/overlay/auth"
	cborprofile "github.com/bridgefall/overlay/profile/cbor"
)

const defaultSecretSize = 1024

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}
	switch os.Args[1] {
	case "secret":
		runSecret(os.Args[2:])
	case "keys":
		runKeys(os.Args[2:])
	case "state":
		runState(os.Args[2:])
	case "-h", "--help", "help":
		usage()
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", os.Args[1])
		usage()
		os.Exit(2)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "Usage: ftctl <command> [options]")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "Commands:")
	fmt.Fprintln(os.Stderr, "  secret   Generate a shared secret file")
	fmt.Fprintln(os.Stderr, "  keys     Print the key fingerprint for a secret and port")
	fmt.Fprintln(os.Stderr, "  state    Encode/decode persisted overlay state")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "Examples:")
	fmt.Fprintln(os.Stderr, "  ftctl secret -out /etc/firetunnel/secret")
	fmt.Fprintln(os.Stderr, "  ftctl keys -secret /etc/firetunnel/secret -port 1119")
	fmt.Fprintln(os.Stderr, "  ftctl state -in /var/lib/firetunnel/ftc.state")
	fmt.Fprintln(os.Stderr, "  ftctl state -encode -in state.json -out ftc.state")
}

func runSecret(args []string) {
	fs := flag.NewFlagSet("secret", flag.ExitOnError)
	outPath := fs.String("out", "", "output file (defaults to stdout, base64)")
	size := fs.Int("size", defaultSecretSize, "secret size in bytes")
	force := fs.Bool("force", false, "overwrite an existing file")
	_ = fs.Parse(args)

	if *size < 32 {
		fatalf("size must be >= 32")
	}
	secret := make([]byte, *size)
	if _, err := rand.Read(secret); err != nil {
		fatalf("secret generation failed: %v", err)
	}
	if *outPath == "" {
		if err := writeOutput("", []byte(base64.StdEncoding.EncodeToString(secret))); err != nil {
			fatalf("secret write output: %v", err)
		}
		return
	}
	if err := writeSecret(*outPath, secret, *force); err != nil {
		fatalf("secret write output: %v", err)
	}
	fmt.Printf("secret written to %s (%d bytes)\n", *outPath, len(secret))
}

func writeSecret(path string, secret []byte, force bool) error {
	flags := os.O_WRONLY | os.O_CREATE | os.O_EXCL
	if force {
		flags = os.O_WRONLY | os.O_CREATE | os.O_TRUNC
	}
	f, err := os.OpenFile(path, flags, 0o600)
	if err != nil {
		if errors.Is(err, os.ErrExist) {
			return fmt.Errorf("%s exists (use -force to overwrite)", path)
		}
		return err
	}
	if _, err := f.Write(secret); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func runKeys(args []string) {
	fs := flag.NewFlagSet("keys", flag.ExitOnError)
	secretPath := fs.String("secret", "", "secret file")
	port := fs.Uint("port", 1119, "tunnel UDP port")
	index := fs.Int("index", -1, "also print the key at this index")
	_ = fs.Parse(args)

	if *secretPath == "" {
		fatalf("keys: -secret required")
	}
	if *port == 0 || *port > 65535 {
		fatalf("keys: port out of range")
	}
	secret, err := auth.LoadSecret(*secretPath)
	if err != nil {
		fatalf("keys: %v", err)
	}
	keys, err := auth.DeriveKeys(secret, uint16(*port))
	if err != nil {
		fatalf("keys: %v", err)
	}
	fmt.Printf("fingerprint=%s\n", keys.Fingerprint())
	fmt.Printf("keys=%d\n", auth.KeyCount)
	if *index >= 0 {
		if *index >= auth.KeyCount {
			fatalf("keys: index must be < %d", auth.KeyCount)
		}
		k := keys.Key(*index)
		fmt.Printf("key[%d]=%s\n", *index, hex.EncodeToString(k[:]))
	}
}

func runState(args []string) {
	fs := flag.NewFlagSet("state", flag.ExitOnError)
	encode := fs.Bool("encode", false, "encode JSON into CBOR")
	inPath := fs.String("in", "", "input file (defaults to stdin)")
	outPath := fs.String("out", "", "output file (defaults to stdout)")
	base64Mode := fs.Bool("base64", false, "read/write base64-wrapped CBOR")
	_ = fs.Parse(args)

	input, err := readInput(*inPath)
	if err != nil {
		fatalf("state read input: %v", err)
	}

	if !*encode {
		if *base64Mode {
			input, err = decodeBase64(input)
			if err != nil {
				fatalf("state decode base64: %v", err)
			}
		}
		out, err := cborprofile.DecodeCBORToJSON(input)
		if err != nil {
			fatalf("state decode: %v", err)
		}
		if err := writeOutput(*outPath, out); err != nil {
			fatalf("state write output: %v", err)
		}
		return
	}

	out, err := cborprofile.EncodeJSONState(input)
	if err != nil {
		fatalf("state encode: %v", err)
	}
	if *base64Mode {
		out = []byte(base64.StdEncoding.EncodeToString(out))
	}
	if err := writeOutput(*outPath, out); err != nil {
		fatalf("state write output: %v", err)
	}
}

func readInput(path string) ([]byte, error) {
	if path == "" {
		return io.ReadAll(os.Stdin)
	}
	return os.ReadFile(path)
}

func writeOutput(path string, data []byte) error {
	if path == "" {
		_, err := os.Stdout.Write(data)
		if err != nil {
			return err
		}
		_, err = os.Stdout.Write([]byte("\n"))
		return err
	}
	return os.WriteFile(path, data, 0o600)
}

func decodeBase64(raw []byte) ([]byte, error) {
	trimmed := strings.TrimSpace(string(raw))
	if trimmed == "" {
		return nil, fmt.Errorf("empty base64 input")
	}
	return base64.StdEncoding.DecodeString(strings.Join(strings.Fields(trimmed), ""))
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}
