// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package app

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"golang.org/x/term"
	"gopkg.in/yaml.v3"

	summer "github.com/stacklok/summerboot/pkg/app"
	"github.com/stacklok/summerboot/pkg/config"
	"github.com/stacklok/summerboot/pkg/registry"
)

func newConfigCmd(catalog func() *registry.Catalog) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage application configuration",
		Long:  "The config command provides subcommands to inspect and protect the properties files of an application.",
	}
	cmd.AddCommand(newConfigEncryptCmd())
	cmd.AddCommand(newConfigShowCmd(catalog))
	return cmd
}

func newConfigEncryptCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "encrypt [file...]",
		Short: "Encrypt DEC(...) values in properties files",
		Long: `Rewrite every DEC(plain) value as ENC(cipher) using the master password from
` + config.MasterPasswordEnv + `. Without arguments every *.properties file of the
configuration directory is processed. Relative file names resolve against it.

When ` + config.MasterPasswordEnv + ` is not set and stdin is a terminal, the master
password is prompted for.

Example:
  ` + config.MasterPasswordEnv + `=secret summer config encrypt auth.properties`,
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := baseOptions(registry.NewCatalog)
			dir := summer.ResolveConfigDir(opts.ConfigDir, opts.Domain)

			cipher, err := config.CipherFromEnv(envReader)
			if err != nil {
				return err
			}
			if cipher == nil {
				if cipher, err = promptCipher(cmd.ErrOrStderr()); err != nil {
					return err
				}
			}

			files := args
			if len(files) == 0 {
				if files, err = filepath.Glob(filepath.Join(dir, "*.properties")); err != nil {
					return err
				}
			}
			for _, file := range files {
				if !filepath.IsAbs(file) {
					file = filepath.Join(dir, file)
				}
				changed, err := config.EncryptFile(cmd.Context(), file, cipher)
				if err != nil {
					return err
				}
				if changed {
					fmt.Fprintf(cmd.OutOrStdout(), "encrypted %s\n", file)
				}
			}
			return nil
		},
	}
}

// readPassword reads the master password from the terminal. It returns
// errNoTerminal when stdin is not one.
var readPassword = func(prompt io.Writer) (string, error) {
	fd := int(os.Stdin.Fd()) //nolint:gosec // file descriptors fit in int
	if !term.IsTerminal(fd) {
		return "", errNoTerminal
	}
	fmt.Fprint(prompt, "Master password: ")
	b, err := term.ReadPassword(fd)
	fmt.Fprintln(prompt)
	if err != nil {
		return "", fmt.Errorf("failed to read master password: %w", err)
	}
	return string(b), nil
}

var errNoTerminal = errors.New("stdin is not a terminal")

// promptCipher builds the cipher from a prompted password. It returns a nil
// Cipher without a terminal so the caller reports the missing password.
func promptCipher(prompt io.Writer) (*config.Cipher, error) {
	password, err := readPassword(prompt)
	if errors.Is(err, errNoTerminal) || (err == nil && password == "") {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return config.NewCipher(password)
}

func newConfigShowCmd(catalog func() *registry.Catalog) *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Print the loaded configuration",
		Long: `Load every config the application declares and print its properties as YAML,
keyed by config name. Encrypted values are printed encrypted.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := summer.LoadConfig(cmd.Context(), baseOptions(catalog))
			if err != nil {
				return err
			}

			out := map[string]map[string]string{}
			for _, key := range a.Store().Keys() {
				raw, _ := a.Store().Raw(key)
				out[key] = raw
			}
			enc := yaml.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent(2)
			if err := enc.Encode(out); err != nil {
				return fmt.Errorf("failed to render configuration: %w", err)
			}
			return enc.Close()
		},
	}
}
