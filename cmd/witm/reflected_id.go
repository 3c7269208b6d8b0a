package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/witmigrate/witmigrate/internal/config"
	"github.com/witmigrate/witmigrate/internal/reflected"
	"github.com/witmigrate/witmigrate/internal/tracker/azuredevops"
)

var reflectedIDCmd = &cobra.Command{
	Use:   "reflected-id",
	Short: "Parse or build reflected work item ids",
}

var reflectedIDParseCmd = &cobra.Command{
	Use:     "parse <reflected-id>",
	Short:   "Split a reflected id into its parts",
	Example: `  witm reflected-id parse https://dev.azure.com/contoso/Fabrikam/_workitems/edit/42`,
	Args:    cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		id, err := reflected.Decode(args[0])
		if err != nil {
			FatalError("%v", err)
		}
		view := reflectedIDView(id)
		if jsonOutput {
			outputJSON(view)
			return
		}
		fmt.Printf("Root:      %s\n", view.Root)
		fmt.Printf("Project:   %s\n", view.Project)
		fmt.Printf("Work item: %s\n", view.WorkItemID)
	},
}

var reflectedIDFormatCmd = &cobra.Command{
	Use:   "format",
	Short: "Build the reflected id of a source work item",
	Long: `Builds the reflected id stored on a migrated work item. --root and
--project default to the configured source organization and project.`,
	Example: `  witm reflected-id format --id 42
  witm reflected-id format --root https://tfs.example.com/tfs/Default --project Fabrikam --id 42`,
	Args: cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		root, _ := cmd.Flags().GetString("root")
		project, _ := cmd.Flags().GetString("project")
		workItemID, _ := cmd.Flags().GetString("id")

		if root == "" {
			root = sourceConnectionRoot()
		}
		if project == "" {
			project = config.GetString(config.KeySourceProject)
		}

		id, err := reflected.Encode(project, workItemID, root)
		if err != nil {
			FatalErrorWithHint(err.Error(), "Pass --root, --project and --id, or configure the source endpoint")
		}
		if jsonOutput {
			outputJSON(reflectedIDView(id))
			return
		}
		fmt.Println(id.String())
	},
}

func init() {
	reflectedIDFormatCmd.Flags().String("root", "", "Collection or organization URL")
	reflectedIDFormatCmd.Flags().String("project", "", "Project of the source work item")
	reflectedIDFormatCmd.Flags().String("id", "", "Source work item id")
	_ = reflectedIDFormatCmd.MarkFlagRequired("id")

	reflectedIDCmd.AddCommand(reflectedIDParseCmd, reflectedIDFormatCmd)
	rootCmd.AddCommand(reflectedIDCmd)
}

type reflectedIDJSON struct {
	Value      string `json:"value"`
	Root       string `json:"root"`
	Project    string `json:"project"`
	WorkItemID string `json:"work_item_id"`
	Numeric    bool   `json:"numeric"`
}

func reflectedIDView(id reflected.ID) reflectedIDJSON {
	_, err := strconv.Atoi(id.WorkItemID())
	return reflectedIDJSON{
		Value:      id.String(),
		Root:       id.ConnectionRoot(),
		Project:    id.ProjectName(),
		WorkItemID: id.WorkItemID(),
		Numeric:    err == nil,
	}
}

// sourceConnectionRoot returns the configured source organization URL, or
// "" when none is set.
func sourceConnectionRoot() string {
	org := config.GetString(config.KeySourceOrganization)
	if org == "" {
		return ""
	}
	return azuredevops.NewClient(org, "", "").ConnectionRoot()
}
