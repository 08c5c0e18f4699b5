/*
Package config loads the run file that drives an end-to-end deployment.

The file is YAML; JSON works as well since it is a YAML subset. Secrets can
be kept out of the file and supplied through the environment, optionally
loaded from a dotenv file:

	PANDA_VC_PASSWORD      vc_password
	PANDA_OMS_PASSWORD     password
	PANDA_ADMIN_PASSWORD   admin_password
	PANDA_S3_ACCESS_KEY_ID / PANDA_S3_SECRET_ACCESS_KEY   bundle_upload keys

Durations under timing accept Go duration strings ("3m", "500s").
*/
package config
