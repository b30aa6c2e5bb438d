package cmd

import (
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"

	"github.com/runninghub-studio/studio/internal/model"
	"github.com/runninghub-studio/studio/internal/orchestrator"
	"github.com/spf13/cobra"
)

func newPingCmd(a *app) *cobra.Command {
	var workflowType string
	cmd := &cobra.Command{
		Use:   "ping",
		Short: "Show which RunningHub settings the server resolves",
		RunE: func(cmd *cobra.Command, args []string) error {
			res, err := a.client().Ping(cmd.Context(), workflowType)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "ok: %v\n", res.OK)
			for _, kv := range []struct {
				name  string
				value *string
			}{
				{"workflowType", res.WorkflowType},
				{"workflowIdKeyUsed", res.WorkflowIDKeyUsed},
				{"runUrlKeyUsed", res.RunURLKeyUsed},
				{"queryUrlKeyUsed", res.QueryURLKeyUsed},
				{"runUrlHost", res.RunURLHost},
				{"runUrlPath", res.RunURLPath},
			} {
				v := "-"
				if kv.value != nil {
					v = *kv.value
				}
				fmt.Fprintf(out, "%s: %s\n", kv.name, v)
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&workflowType, "workflow-type", "w", "", "workflow type suffix, e.g. IMAGE_REPAIR")
	return cmd
}

func newGenerateCmd(a *app) *cobra.Command {
	var kindName string

	cmd := &cobra.Command{
		Use:   "generate IMAGE [IMAGE...]",
		Short: "Render one image or a batch through the proxy",
		Long: `Submits images to the proxy, waits for the results and records them in the
local history. Several images are processed one after another; the batch
stops at the first failure or when points run out.`,
		Example: `  studio generate photo.jpg
  studio generate --kind image-repair old1.png old2.png`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			kind, err := orchestrator.ParseKind(kindName)
			if err != nil {
				return err
			}
			st, err := a.store()
			if err != nil {
				return err
			}
			inputs := make([]orchestrator.Input, 0, len(args))
			for _, path := range args {
				in, err := readInput(kind, path)
				if err != nil {
					return err
				}
				inputs = append(inputs, in)
			}

			out := cmd.OutOrStdout()
			o := orchestrator.New(a.client(), st, orchestrator.Options{
				PollInterval: a.v.GetDuration("client.pollInterval"),
				Timeout:      a.v.GetDuration("client.timeout"),
				OnProgress: func(step string) {
					fmt.Fprintf(cmd.ErrOrStderr(), "... %s\n", step)
				},
			})
			results, err := o.GenerateBatch(cmd.Context(), inputs)
			for _, r := range results {
				fmt.Fprintf(out, "%s\t%s\n", r.ID, r.GeneratedURL)
			}
			var ge *orchestrator.GenerationError
			if errors.As(err, &ge) {
				return fmt.Errorf("%s. %s (%s)", ge.Message, ge.Action, ge.Type)
			}
			return err
		},
	}
	cmd.Flags().StringVarP(&kindName, "kind", "k", string(orchestrator.KindModelRender), "model-render, image-repair or generic")
	return cmd
}

func readInput(kind orchestrator.Kind, path string) (orchestrator.Input, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return orchestrator.Input{}, err
	}
	source := model.ImageSourceAlbum
	switch kind {
	case orchestrator.KindModelRender:
		source = model.ImageSourceModel
	case orchestrator.KindImageRepair:
		source = model.ImageSourceRepair
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		abs = path
	}
	return orchestrator.Input{
		Kind: kind,
		Image: model.ImageData{
			URL:    "file://" + filepath.ToSlash(abs),
			Source: source,
		},
		FileName:    filepath.Base(path),
		ContentType: http.DetectContentType(data),
		Data:        data,
	}, nil
}
