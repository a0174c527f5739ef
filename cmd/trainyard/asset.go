package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/cuemby/trainyard/pkg/manager"
	"github.com/cuemby/trainyard/pkg/types"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

var assetCmd = &cobra.Command{
	Use:   "asset",
	Short: "Manage compute assets",
}

var assetAddCmd = &cobra.Command{
	Use:   "add NAME ADDRESS",
	Short: "Register an asset",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		maxTasks, _ := cmd.Flags().GetInt("max-tasks")
		labelingPort, _ := cmd.Flags().GetInt("labeling-port")
		trainingPort, _ := cmd.Flags().GetInt("training-port")
		sshUser, _ := cmd.Flags().GetString("ssh-user")
		sshPassword, _ := cmd.Flags().GetString("ssh-password")

		spec := manager.AssetSpec{
			Name:               args[0],
			Address:            args[1],
			MaxConcurrentTasks: maxTasks,
			Labeling:           manager.CapabilitySpec{Enabled: labelingPort > 0, Port: labelingPort},
			Training:           manager.CapabilitySpec{Enabled: trainingPort > 0, Port: trainingPort},
			SSHUsername:        sshUser,
			SSHPassword:        sshPassword,
		}
		asset, err := newClient(cmd).CreateAsset(spec)
		if err != nil {
			return fmt.Errorf("failed to add asset: %w", err)
		}
		fmt.Printf("✓ Asset added: %s (ID: %d)\n", asset.Name, asset.ID)
		return nil
	},
}

var assetListCmd = &cobra.Command{
	Use:   "list",
	Short: "List assets with their reservation counters",
	RunE: func(cmd *cobra.Command, args []string) error {
		assets, err := newClient(cmd).ListAssets()
		if err != nil {
			return err
		}
		if len(assets) == 0 {
			fmt.Println("No assets found")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tNAME\tADDRESS\tLABELING\tTRAINING\tMAX")
		for _, a := range assets {
			fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\t%d\n", a.ID, a.Name, a.Address,
				capability(a, types.CapabilityLabeling), capability(a, types.CapabilityTraining), a.MaxConcurrentTasks)
		}
		return w.Flush()
	},
}

var assetDeleteCmd = &cobra.Command{
	Use:   "delete ID",
	Short: "Remove an asset with no running tasks",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseID(args[0])
		if err != nil {
			return err
		}
		if err := newClient(cmd).DeleteAsset(id); err != nil {
			return err
		}
		fmt.Printf("✓ Asset %d deleted\n", id)
		return nil
	},
}

var assetVerifyCmd = &cobra.Command{
	Use:   "verify ID",
	Short: "Check an asset's labeling and training services",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseID(args[0])
		if err != nil {
			return err
		}
		asset, err := newClient(cmd).VerifyAsset(id)
		if err != nil {
			return err
		}
		for _, c := range types.Capabilities {
			b := asset.Block(c)
			if !b.Enabled {
				continue
			}
			mark := "✗"
			if b.Verified {
				mark = "✓"
			}
			fmt.Printf("%s %s: %s\n", mark, c, b.Message)
		}
		return nil
	},
}

// AssetManifest is the file format of 'asset apply'
type AssetManifest struct {
	Assets []manager.AssetSpec `yaml:"assets"`
}

var assetApplyCmd = &cobra.Command{
	Use:   "apply",
	Short: "Create or update assets from a YAML manifest",
	Long: `Create or update assets from a YAML manifest. Assets are matched by name.

Example manifest:

  assets:
    - name: gpu-1
      address: 10.0.0.5
      max_concurrent_tasks: 2
      labeling: {enabled: true, port: 8188}
      training: {enabled: true, port: 28000}
      ssh_port: 22
      ssh_username: root`,
	RunE: runAssetApply,
}

func runAssetApply(cmd *cobra.Command, args []string) error {
	filename, _ := cmd.Flags().GetString("file")

	data, err := os.ReadFile(filename)
	if err != nil {
		return fmt.Errorf("failed to read file: %w", err)
	}
	manifest, err := parseManifest(data)
	if err != nil {
		return err
	}

	c := newClient(cmd)
	var failed int
	for _, spec := range manifest.Assets {
		asset, created, err := c.ApplyAsset(spec)
		if err != nil {
			failed++
			fmt.Fprintf(os.Stderr, "✗ %s: %v\n", spec.Name, err)
			continue
		}
		verb := "updated"
		if created {
			verb = "created"
		}
		fmt.Printf("✓ Asset %s: %s (ID: %d)\n", verb, asset.Name, asset.ID)
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d assets failed", failed, len(manifest.Assets))
	}
	return nil
}

func parseManifest(data []byte) (*AssetManifest, error) {
	var manifest AssetManifest
	if err := yaml.Unmarshal(data, &manifest); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}
	if len(manifest.Assets) == 0 {
		return nil, fmt.Errorf("manifest has no assets")
	}
	for i, spec := range manifest.Assets {
		if err := spec.Validate(); err != nil {
			return nil, fmt.Errorf("asset %d (%q): %w", i, spec.Name, err)
		}
	}
	return &manifest, nil
}

func capability(a *types.Asset, c types.Capability) string {
	b := a.Block(c)
	if !b.Enabled {
		return "-"
	}
	s := fmt.Sprintf("%d/%d :%d", a.Count(c), a.MaxConcurrentTasks, b.Port)
	if b.Verified {
		s += " ✓"
	}
	return s
}

func init() {
	assetCmd.AddCommand(assetAddCmd, assetListCmd, assetDeleteCmd, assetVerifyCmd, assetApplyCmd)

	assetAddCmd.Flags().Int("max-tasks", 1, "Maximum concurrent tasks per capability")
	assetAddCmd.Flags().Int("labeling-port", 0, "Labeling service port (0 disables labeling)")
	assetAddCmd.Flags().Int("training-port", 0, "Training service port (0 disables training)")
	assetAddCmd.Flags().String("ssh-user", "", "SSH username")
	assetAddCmd.Flags().String("ssh-password", "", "SSH password (stored encrypted)")

	assetApplyCmd.Flags().StringP("file", "f", "", "YAML manifest to apply (required)")
	_ = assetApplyCmd.MarkFlagRequired("file")
}
