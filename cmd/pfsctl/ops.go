package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/wicos64/persistentfs/internal/wireproto"
)

func mkdirCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "mkdir <path>",
		Short: "Create a directory",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c := newClient(targetURL)
			path := args[0]
			return c.withSession(func(pid uint32) error {
				e := wireproto.NewEncoder(8 + len(path))
				e.WriteU32(pid)
				_ = e.WriteString(path)
				status, _, err := c.call(wireproto.OpMkdir, e.Bytes())
				if err != nil {
					return err
				}
				if status != wireproto.StatusOK {
					return fmt.Errorf("mkdir: %s", statusString(status))
				}
				return nil
			})
		},
	}
}

func createCmd() *cobra.Command {
	var size uint32
	cmd := &cobra.Command{
		Use:   "create <path>",
		Short: "Create an empty (or pre-sized) file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c := newClient(targetURL)
			path := args[0]
			return c.withSession(func(pid uint32) error {
				e := wireproto.NewEncoder(12 + len(path))
				e.WriteU32(pid)
				_ = e.WriteString(path)
				e.WriteU32(size)
				status, _, err := c.call(wireproto.OpCreate, e.Bytes())
				if err != nil {
					return err
				}
				if status != wireproto.StatusOK {
					return fmt.Errorf("create: %s", statusString(status))
				}
				return nil
			})
		},
	}
	cmd.Flags().Uint32Var(&size, "size", 0, "initial file size in bytes")
	return cmd
}

func rmCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "rm <path>",
		Short: "Remove a file or empty directory",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c := newClient(targetURL)
			path := args[0]
			return c.withSession(func(pid uint32) error {
				e := wireproto.NewEncoder(8 + len(path))
				e.WriteU32(pid)
				_ = e.WriteString(path)
				status, _, err := c.call(wireproto.OpRemove, e.Bytes())
				if err != nil {
					return err
				}
				if status != wireproto.StatusOK {
					return fmt.Errorf("rm: %s", statusString(status))
				}
				return nil
			})
		},
	}
}

func openFD(c *client, pid uint32, path string) (uint32, error) {
	e := wireproto.NewEncoder(8 + len(path))
	e.WriteU32(pid)
	_ = e.WriteString(path)
	status, resp, err := c.call(wireproto.OpOpen, e.Bytes())
	if err != nil {
		return 0, err
	}
	if status != wireproto.StatusOK {
		return 0, fmt.Errorf("open: %s", statusString(status))
	}
	d := wireproto.NewDecoder(resp)
	fd, _ := d.ReadU32()
	return fd, nil
}

func closeFD(c *client, pid, fd uint32) {
	e := wireproto.NewEncoder(8)
	e.WriteU32(pid)
	e.WriteU32(fd)
	_, _, _ = c.call(wireproto.OpClose, e.Bytes())
}

func catCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "cat <path>",
		Short: "Print a file's contents to stdout",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c := newClient(targetURL)
			path := args[0]
			return c.withSession(func(pid uint32) error {
				fd, err := openFD(c, pid, path)
				if err != nil {
					return err
				}
				defer closeFD(c, pid, fd)

				var pos uint32
				const chunk = 4096
				for {
					e := wireproto.NewEncoder(10)
					e.WriteU32(pid)
					e.WriteU32(fd)
					e.WriteU16(chunk)
					status, data, err := c.call(wireproto.OpRead, e.Bytes())
					if err != nil {
						return err
					}
					if status != wireproto.StatusOK {
						return fmt.Errorf("read: %s", statusString(status))
					}
					if len(data) == 0 {
						return nil
					}
					if _, err := os.Stdout.Write(data); err != nil {
						return err
					}
					pos += uint32(len(data))
					_ = pos
				}
			})
		},
	}
}

func writeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "write <path> <text>",
		Short: "Overwrite a file's contents starting at offset 0",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			c := newClient(targetURL)
			path, text := args[0], args[1]
			return c.withSession(func(pid uint32) error {
				fd, err := openFD(c, pid, path)
				if err != nil {
					return err
				}
				defer closeFD(c, pid, fd)

				data := []byte(text)
				e := wireproto.NewEncoder(10 + len(data))
				e.WriteU32(pid)
				e.WriteU32(fd)
				e.WriteU16(uint16(len(data)))
				e.WriteBytes(data)
				status, resp, err := c.call(wireproto.OpWrite, e.Bytes())
				if err != nil {
					return err
				}
				if status != wireproto.StatusOK {
					return fmt.Errorf("write: %s", statusString(status))
				}
				d := wireproto.NewDecoder(resp)
				n, _ := d.ReadU32()
				fmt.Printf("wrote %d bytes\n", n)
				return nil
			})
		},
	}
}

func lsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ls <path>",
		Short: "List a directory's entries",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c := newClient(targetURL)
			path := args[0]
			return c.withSession(func(pid uint32) error {
				fd, err := openFD(c, pid, path)
				if err != nil {
					return err
				}
				defer closeFD(c, pid, fd)

				for {
					e := wireproto.NewEncoder(8)
					e.WriteU32(pid)
					e.WriteU32(fd)
					status, resp, err := c.call(wireproto.OpReaddir, e.Bytes())
					if err != nil {
						return err
					}
					if status != wireproto.StatusOK {
						return fmt.Errorf("readdir: %s", statusString(status))
					}
					d := wireproto.NewDecoder(resp)
					has, _ := d.ReadU8()
					if has == 0 {
						return nil
					}
					name, _ := d.ReadString(wireproto.MaxName)
					fmt.Println(name)
				}
			})
		},
	}
}
