package commands

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/alvesdmateus/repo-provisioner/internal/policy"
)

func newPolicyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "policy",
		Short: "Inspect the policy documents a reconcile would apply",
	}
	cmd.AddCommand(newPolicyRenderCmd())
	return cmd
}

func newPolicyRenderCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "render",
		Short: "Render the lifecycle and access policy documents without contacting the registry",
		Args:  cobra.NoArgs,
		RunE:  runPolicyRender,
	}

	cmd.Flags().String("access-policy-file", "", "access policy document (default: synthesized from access_defaults)")
	cmd.Flags().String("lifecycle-file", "", "lifecycle rules file (default: expire untagged images)")
	cmd.Flags().Bool("compact", false, "print the documents exactly as sent to the registry")

	return cmd
}

func runPolicyRender(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd,
		flagBinding{flag: "access-policy-file", key: "repository.access_policy_file"},
		flagBinding{flag: "lifecycle-file", key: "repository.lifecycle_file"},
	)
	if err != nil {
		return err
	}
	compact, _ := cmd.Flags().GetBool("compact")

	specs, err := ruleSpecs(cfg)
	if err != nil {
		return err
	}
	lifecycle, err := policy.BuildLifecyclePolicy(specs)
	if err != nil {
		return err
	}
	lifecycleDoc, err := lifecycle.Render()
	if err != nil {
		return err
	}

	override, err := accessOverride(cfg)
	if err != nil {
		return err
	}
	access, err := policy.BuildAccessPolicy(override, accessDefaults(cfg.AccessDefaults))
	if err != nil {
		return err
	}
	accessDoc, err := access.Render()
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintln(out, "# lifecycle policy")
	if err := writeDocument(out, lifecycleDoc, compact); err != nil {
		return err
	}
	fmt.Fprintln(out, "# access policy")
	return writeDocument(out, accessDoc, compact)
}

func writeDocument(w io.Writer, doc []byte, compact bool) error {
	if compact {
		_, err := fmt.Fprintf(w, "%s\n", doc)
		return err
	}
	var buf bytes.Buffer
	if err := json.Indent(&buf, doc, "", "  "); err != nil {
		return fmt.Errorf("failed to format document: %w", err)
	}
	buf.WriteByte('\n')
	_, err := buf.WriteTo(w)
	return err
}
