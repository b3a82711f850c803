package app

import (
	"bufio"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	clierr "github.com/ggonzalez94/defi-agent/internal/errors"
	"github.com/ggonzalez94/defi-agent/internal/model"
)

const (
	envWalletPassword = "DEFI_AGENT_WALLET_PASSWORD"
	envPrivateKey     = "DEFI_AGENT_PRIVATE_KEY"
)

type passwordSource struct {
	fromStdin bool
}

func (p *passwordSource) bind(fs *pflag.FlagSet) {
	fs.BoolVar(&p.fromStdin, "password-stdin", false, "Read the wallet password from the first line of stdin (default: "+envWalletPassword+")")
}

func (p *passwordSource) read(in io.Reader) (string, error) {
	if p.fromStdin {
		line, err := bufio.NewReader(in).ReadString('\n')
		if err != nil && err != io.EOF {
			return "", clierr.Wrap(clierr.CodeUsage, "read password from stdin", err)
		}
		if pw := strings.TrimRight(line, "\r\n"); pw != "" {
			return pw, nil
		}
		return "", clierr.New(clierr.CodeUsage, "empty password on stdin")
	}
	if pw := os.Getenv(envWalletPassword); pw != "" {
		return pw, nil
	}
	return "", clierr.New(clierr.CodeUsage, "wallet password required: set "+envWalletPassword+" or pass --password-stdin")
}

func (s *runtimeState) newWalletCommand() *cobra.Command {
	root := &cobra.Command{
		Use:   "wallet",
		Short: "Manage the encrypted wallet for an account",
	}

	var createPW passwordSource
	create := &cobra.Command{
		Use:   "create",
		Short: "Generate a new key and store it encrypted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			password, err := createPW.read(cmd.InOrStdin())
			if err != nil {
				return err
			}
			wallet, err := s.openWallet()
			if err != nil {
				return err
			}
			addr, err := wallet.Create(password)
			if err != nil {
				return err
			}
			s.log.WithField("account", s.settings.Account).WithField("address", addr.Hex()).Info("wallet created")
			return s.emitSuccess(trimRootPath(cmd.CommandPath()), wallet.Info(), nil)
		},
	}
	createPW.bind(create.Flags())

	var importPW passwordSource
	var keyFile string
	importCmd := &cobra.Command{
		Use:   "import",
		Short: "Store an existing hex private key encrypted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			key, err := readPrivateKey(keyFile)
			if err != nil {
				return err
			}
			password, err := importPW.read(cmd.InOrStdin())
			if err != nil {
				return err
			}
			wallet, err := s.openWallet()
			if err != nil {
				return err
			}
			if _, err := wallet.Import(key, password); err != nil {
				return err
			}
			return s.emitSuccess(trimRootPath(cmd.CommandPath()), wallet.Info(), nil)
		},
	}
	importPW.bind(importCmd.Flags())
	importCmd.Flags().StringVar(&keyFile, "key-file", "", "File holding the hex private key (default: "+envPrivateKey+")")

	show := &cobra.Command{
		Use:   "show",
		Short: "Show the wallet address and state",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			wallet, err := s.openWallet()
			if err != nil {
				return err
			}
			return s.emitSuccess(trimRootPath(cmd.CommandPath()), wallet.Info(), nil)
		},
	}

	var unlockPW passwordSource
	unlock := &cobra.Command{
		Use:   "unlock",
		Short: "Check that the password decrypts the wallet",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			password, err := unlockPW.read(cmd.InOrStdin())
			if err != nil {
				return err
			}
			wallet, err := s.openWallet()
			if err != nil {
				return err
			}
			if err := wallet.Unlock(password); err != nil {
				return err
			}
			info := wallet.Info()
			wallet.Lock()
			return s.emitSuccess(trimRootPath(cmd.CommandPath()), info, []string{"password verified; keys are only held unlocked inside chat and serve sessions"})
		},
	}
	unlockPW.bind(unlock.Flags())

	var yes bool
	deleteCmd := &cobra.Command{
		Use:   "delete",
		Short: "Remove the encrypted wallet record",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !yes {
				return clierr.New(clierr.CodeUsage, "deleting a wallet is irreversible; pass --yes to confirm")
			}
			wallet, err := s.openWallet()
			if err != nil {
				return err
			}
			if err := wallet.Delete(); err != nil {
				return err
			}
			return s.emitSuccess(trimRootPath(cmd.CommandPath()), model.WalletInfo{Account: s.settings.Account, State: string(wallet.State())}, nil)
		},
	}
	deleteCmd.Flags().BoolVar(&yes, "yes", false, "Confirm deletion")

	root.AddCommand(create)
	root.AddCommand(importCmd)
	root.AddCommand(show)
	root.AddCommand(unlock)
	root.AddCommand(deleteCmd)
	return root
}

func readPrivateKey(path string) (string, error) {
	if strings.TrimSpace(path) != "" {
		buf, err := os.ReadFile(path)
		if err != nil {
			return "", clierr.Wrap(clierr.CodeUsage, "read key file", err)
		}
		return strings.TrimSpace(string(buf)), nil
	}
	if key := strings.TrimSpace(os.Getenv(envPrivateKey)); key != "" {
		return key, nil
	}
	return "", clierr.New(clierr.CodeUsage, "private key required: pass --key-file or set "+envPrivateKey)
}
