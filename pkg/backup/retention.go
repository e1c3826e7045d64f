package backup

import (
	"context"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// retentionDays maps each backup kind to its lifecycle expiration (§4.5).
// "final" has no entry: it is retained until explicit admin delete.
var retentionDays = map[string]int32{
	"daily":   30,
	"weekly":  56,
	"monthly": 360,
}

// ConfigureLifecycle applies the bucket's retention policy at startup,
// deriving one expiration rule per non-final kind from retentionDays.
func ConfigureLifecycle(ctx context.Context, client *s3.Client, bucket string) error {
	var rules []types.LifecycleRule
	for kind, days := range retentionDays {
		rules = append(rules, types.LifecycleRule{
			ID:     aws.String("hostfleet-" + kind + "-retention"),
			Status: types.ExpirationStatusEnabled,
			Filter: &types.LifecycleRuleFilterMemberPrefix{Value: kind + "/"},
			Expiration: &types.LifecycleExpiration{
				Days: days,
			},
		})
	}

	_, err := client.PutBucketLifecycleConfiguration(ctx, &s3.PutBucketLifecycleConfigurationInput{
		Bucket: aws.String(bucket),
		LifecycleConfiguration: &types.BucketLifecycleConfiguration{
			Rules: rules,
		},
	})
	return err
}

// RetentionClassFor returns the retention class label recorded on a
// BackupRecord for kind.
func RetentionClassFor(kind string) string {
	if days, ok := retentionDays[kind]; ok {
		return fmtDays(days)
	}
	return "indefinite"
}

func fmtDays(days int32) string {
	switch days {
	case 30:
		return "30d"
	case 56:
		return "56d"
	case 360:
		return "360d"
	default:
		return "custom"
	}
}
