package kubecons

import (
    "context"
    "encoding/json"
    "fmt"
    "sort"
    "strings"

    corev1 "k8s.io/api/core/v1"
    "k8s.io/apimachinery/pkg/api/errors"
    metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
    "k8s.io/apimachinery/pkg/util/validation"
    "k8s.io/client-go/util/retry"

    le "github.com/amirimatin/go-leaderelection/pkg/leaderelection"
)

// keyPrefix marks ConfigMap data keys that hold leader information.
const keyPrefix = "leader."

func dataKey(componentID string) (string, error) {
    key := keyPrefix + componentID
    if errs := validation.IsConfigMapKey(key); len(errs) > 0 {
        return "", fmt.Errorf("kubecons: component id %q is not a valid ConfigMap key: %s", componentID, strings.Join(errs, "; "))
    }
    return key, nil
}

// entriesOf decodes every leader information key in cm. Undecodable values
// are skipped.
func entriesOf(cm *corev1.ConfigMap) []le.LeaderInformationWithComponentID {
    if cm == nil {
        return nil
    }
    out := make([]le.LeaderInformationWithComponentID, 0, len(cm.Data))
    for k, v := range cm.Data {
        if !strings.HasPrefix(k, keyPrefix) {
            continue
        }
        var li le.LeaderInformation
        if err := json.Unmarshal([]byte(v), &li); err != nil || li.IsEmpty() {
            continue
        }
        out = append(out, le.LeaderInformationWithComponentID{ComponentID: strings.TrimPrefix(k, keyPrefix), Information: li})
    }
    sort.Slice(out, func(i, j int) bool { return out[i].ComponentID < out[j].ComponentID })
    return out
}

// readConfigMap returns nil without error when the ConfigMap does not exist.
func readConfigMap(ctx context.Context, opts Options) (*corev1.ConfigMap, error) {
    cm, err := opts.Client.CoreV1().ConfigMaps(opts.Namespace).Get(ctx, opts.ConfigMapName, metav1.GetOptions{})
    if errors.IsNotFound(err) {
        return nil, nil
    }
    if err != nil {
        return nil, fmt.Errorf("kubecons: get configmap: %w", err)
    }
    return cm, nil
}

// updateConfigMap applies mutate to the ConfigMap data, creating the
// ConfigMap when missing, and retries on write conflicts.
func (d *driver) updateConfigMap(ctx context.Context, mutate func(map[string]string)) (*corev1.ConfigMap, error) {
    cms := d.client().CoreV1().ConfigMaps(d.opts.Namespace)
    var out *corev1.ConfigMap
    err := retry.RetryOnConflict(retry.DefaultRetry, func() error {
        cm, err := cms.Get(ctx, d.opts.ConfigMapName, metav1.GetOptions{})
        if errors.IsNotFound(err) {
            cm = &corev1.ConfigMap{
                ObjectMeta: metav1.ObjectMeta{
                    Name:      d.opts.ConfigMapName,
                    Namespace: d.opts.Namespace,
                    Labels:    map[string]string{"app.kubernetes.io/managed-by": "go-leaderelection"},
                },
                Data: map[string]string{},
            }
            mutate(cm.Data)
            out, err = cms.Create(ctx, cm, metav1.CreateOptions{})
            if errors.IsAlreadyExists(err) {
                // Lost the create race; retry as an update.
                return errors.NewConflict(corev1.Resource("configmaps"), d.opts.ConfigMapName, err)
            }
            return err
        }
        if err != nil {
            return err
        }
        if cm.Data == nil {
            cm.Data = map[string]string{}
        }
        mutate(cm.Data)
        out, err = cms.Update(ctx, cm, metav1.UpdateOptions{})
        return err
    })
    if err != nil {
        return nil, fmt.Errorf("kubecons: update configmap: %w", err)
    }
    return out, nil
}
