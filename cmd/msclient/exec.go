package main

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/tychoish/emt"
	"github.com/tychoish/mongosvc"
	"go.mongodb.org/mongo-driver/bson"
)

const (
	flagDatabase      = "database"
	flagCollection    = "collection"
	flagDocument      = "document"
	flagOptions       = "options"
	flagMetadata      = "metadata"
	flagCorrelationID = "correlation-id"
	flagSkipVersion   = "skip-version"
	flagSkipMetric    = "skip-metric"
	flagTarget        = "target"
)

// parseDocument reads extended JSON. An empty string is no document.
func parseDocument(name, in string) (bson.D, error) {
	if in == "" {
		return nil, nil
	}

	var doc bson.D
	if err := bson.UnmarshalExtJSON([]byte(in), false, &doc); err != nil {
		return nil, errors.Wrapf(err, "parsing %s as extended JSON", name)
	}
	return doc, nil
}

func buildRequest(action mongosvc.Action) (*mongosvc.Request, error) {
	db, coll := viper.GetString(flagDatabase), viper.GetString(flagCollection)

	correlationID := viper.GetString(flagCorrelationID)
	if correlationID == "" {
		correlationID = uuid.NewString()
	}
	skipVersion := viper.GetBool(flagSkipVersion)
	skipMetric := viper.GetBool(flagSkipMetric)

	doc, err := parseDocument(flagDocument, viper.GetString(flagDocument))
	if err != nil {
		return nil, err
	}
	opts, err := parseDocument(flagOptions, viper.GetString(flagOptions))
	if err != nil {
		return nil, err
	}
	meta, err := parseDocument(flagMetadata, viper.GetString(flagMetadata))
	if err != nil {
		return nil, err
	}

	catcher := emt.NewBasicCatcher()
	var req *mongosvc.Request

	switch action {
	case mongosvc.Count, mongosvc.Index, mongosvc.DropIndex:
		catcher.ErrorfWhen(skipVersion, "%s does not accept --%s", action, flagSkipVersion)

		query := mongosvc.QueryOptions{Options: opts, Metadata: meta, CorrelationID: correlationID, SkipMetric: skipMetric}
		switch action {
		case mongosvc.Count:
			req = mongosvc.NewCountRequest(db, coll, doc, query)
		case mongosvc.Index:
			req = mongosvc.NewIndexRequest(db, coll, doc, query)
		default:
			req = mongosvc.NewDropIndexRequest(db, coll, doc, query)
		}
	case mongosvc.RenameCollection:
		target := viper.GetString(flagTarget)
		catcher.ErrorfWhen(skipVersion, "%s does not accept --%s", action, flagSkipVersion)
		catcher.ErrorfWhen(len(meta) > 0, "%s does not accept --%s", action, flagMetadata)
		catcher.ErrorfWhen(len(doc) > 0, "%s takes --%s rather than --%s", action, flagTarget, flagDocument)
		catcher.ErrorfWhen(target == "", "%s requires --%s", action, flagTarget)

		req = mongosvc.NewRenameCollectionRequest(db, coll, target, mongosvc.RenameOptions{
			Options:       opts,
			CorrelationID: correlationID,
			SkipMetric:    skipMetric,
		})
	default:
		full := mongosvc.RequestOptions{
			Options:       opts,
			Metadata:      meta,
			CorrelationID: correlationID,
			SkipVersion:   skipVersion,
			SkipMetric:    skipMetric,
		}
		switch action {
		case mongosvc.Create:
			req = mongosvc.NewCreateRequest(db, coll, doc, full)
		case mongosvc.Retrieve:
			req = mongosvc.NewRetrieveRequest(db, coll, doc, full)
		case mongosvc.Update:
			req = mongosvc.NewUpdateRequest(db, coll, doc, full)
		case mongosvc.Delete:
			req = mongosvc.NewDeleteRequest(db, coll, doc, full)
		case mongosvc.DropCollection:
			req = mongosvc.NewDropCollectionRequest(db, coll, doc, full)
		case mongosvc.Bulk:
			req = mongosvc.NewBulkRequest(db, coll, doc, full)
		case mongosvc.Pipeline:
			req = mongosvc.NewPipelineRequest(db, coll, doc, full)
		case mongosvc.Transaction:
			req = mongosvc.NewTransactionRequest(db, coll, doc, full)
		default:
			return nil, errors.Errorf("unsupported action %q", action)
		}
	}

	if err := catcher.Resolve(); err != nil {
		return nil, errors.Wrap(err, "invalid flags")
	}

	return req, errors.Wrap(req.Validate(), "invalid request")
}

func execCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "exec <action>",
		Short: "Send one request and print the response",
		Long: wrapString(`Send one request to the mongo service and print the response as extended
JSON. Documents are given as extended JSON, e.g. --document '{"_id": {"$oid": "..."}}'.
count, index, and dropIndex never skip version history; renameCollection takes --target
and accepts neither metadata nor --skip-version.`),
		Args:      cobra.ExactArgs(1),
		ValidArgs: actionNames(),
		RunE: func(cmd *cobra.Command, args []string) error {
			action, err := mongosvc.ParseAction(args[0])
			if err != nil {
				return err
			}

			conf, err := clientConfig()
			if err != nil {
				return err
			}

			req, err := buildRequest(action)
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			return mongosvc.WithClient(ctx, conf, func(ctx context.Context, client *mongosvc.Client) error {
				resp, err := client.Execute(ctx, req)
				if err != nil {
					return err
				}
				_, err = fmt.Fprintln(cmd.OutOrStdout(), resp.String())
				return err
			})
		},
	}

	flags := cmd.Flags()
	flags.String(flagDatabase, "", wrapString("database to operate on"))
	flags.String(flagCollection, "", wrapString("collection to operate on"))
	flags.String(flagDocument, "", wrapString("request document as extended JSON"))
	flags.String(flagOptions, "", wrapString("request options as extended JSON"))
	flags.String(flagMetadata, "", wrapString("request metadata as extended JSON"))
	flags.String(flagCorrelationID, "", wrapString("correlation id; a random one is generated when unset"))
	flags.Bool(flagSkipVersion, false, wrapString("do not record version history"))
	flags.Bool(flagSkipMetric, false, wrapString("do not record service metrics"))
	flags.String(flagTarget, "", wrapString("new collection name for renameCollection"))

	return cmd
}

func actionNames() []string {
	out := []string{}
	for _, a := range mongosvc.Actions() {
		out = append(out, a.String())
	}
	return out
}
