package sqlinline

const jobColumns = `id::text, project_id::text, status, current_step, progress, resume_count,
       coalesce(error_message, ''), started_at, finished_at, created_at, updated_at`

const QInsertJob = `--sql c8abc620-109b-49ad-aa00-bfbbb60a5c7a
insert into jobs (id, project_id, status, current_step, progress, resume_count, created_at, updated_at)
values ($1::uuid, $2::uuid, $3::text, $4::text, 0, 0, now(), now())
returning created_at, updated_at;
`

const QSelectJobByID = `--sql 3bc4b5fd-027d-460a-bdab-47141f1f2035
select ` + jobColumns + `
from jobs
where id = $1::uuid;
`

const QSelectLatestJobForProject = `--sql 62439141-54a2-4aab-8839-40ab8b4170cb
select ` + jobColumns + `
from jobs
where project_id = $1::uuid
order by created_at desc
limit 1;
`

const QMarkJobRunning = `--sql dc36a81f-fa3f-4c06-8e6c-2c62c700bae7
update jobs
set status = 'running',
    current_step = $2::text,
    progress = $3::int,
    resume_count = resume_count + case when $4::bool then 1 else 0 end,
    error_message = null,
    started_at = coalesce(started_at, now()),
    finished_at = null,
    updated_at = now()
where id = $1::uuid;
`

const QUpdateJobProgress = `--sql 80da4af0-1605-48e5-8252-3872ebc423d4
update jobs
set current_step = $2::text,
    progress = $3::int,
    updated_at = now()
where id = $1::uuid;
`

const QMarkJobFailed = `--sql 44c4b9df-e828-4206-a0c1-45e0edc4f182
update jobs
set status = 'failed',
    current_step = $2::text,
    error_message = $3::text,
    finished_at = now(),
    updated_at = now()
where id = $1::uuid;
`

const QMarkJobCompleted = `--sql 9505302e-84c1-4689-acc3-bc3da110c33c
update jobs
set status = 'completed',
    current_step = 'completed',
    progress = 100,
    error_message = null,
    finished_at = now(),
    updated_at = now()
where id = $1::uuid;
`

const QSelectStalledJobs = `--sql 9d6c703b-8d7e-4b64-ae16-3b8abfa492f7
select ` + jobColumns + `
from jobs
where status = 'running'
  and current_step = $1::text
  and updated_at < $2::timestamptz
order by updated_at asc;
`
